package transport

import (
	"context"
	"sync"

	"github.com/danmuck/edgedlt/internal/engine"
)

// Mux is the engine's LowerLayer. Channels without a link accept and
// confirm everything, so they drain without a consumer.
type Mux struct {
	links []*Link
	rx    Receiver
}

var _ engine.LowerLayer = (*Mux)(nil)

// NewMux sizes the mux for n engine channels and attaches each link to its
// configured channel.
func NewMux(n int, links ...*Link) *Mux {
	m := &Mux{links: make([]*Link, n)}
	for _, l := range links {
		if l.cfg.Channel >= 0 && l.cfg.Channel < n {
			m.links[l.cfg.Channel] = l
		}
	}
	return m
}

// Bind connects every link to the engine. Call it before Serve.
func (m *Mux) Bind(rx Receiver) {
	m.rx = rx
	for _, l := range m.links {
		if l != nil {
			l.bind(rx)
		}
	}
}

func (m *Mux) Links() []*Link {
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (m *Mux) Transmit(ch int, b []byte) engine.TxResult {
	if ch >= 0 && ch < len(m.links) && m.links[ch] != nil {
		return m.links[ch].transmit(b)
	}
	if m.rx != nil {
		m.rx.TxConfirmation(ch, true)
	}
	return engine.TxAccepted
}

func (m *Mux) Capacity(ch int) int {
	if ch >= 0 && ch < len(m.links) && m.links[ch] != nil {
		return m.links[ch].capacity()
	}
	return 1 << 16
}

// Serve listens on and serves every link until ctx is done or one of them
// fails.
func (m *Mux) Serve(ctx context.Context) error {
	links := m.Links()
	for _, l := range links {
		if l.Addr() == nil {
			if err := l.Listen(); err != nil {
				return err
			}
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	for _, l := range links {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Serve(ctx); err != nil {
				once.Do(func() { first = err })
				cancel()
			}
		}()
	}
	wg.Wait()
	return first
}

// Package transport carries engine channels over TCP. Each Link serves one
// channel: every connected peer receives the channel's frames and may send
// control requests back.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgedlt/internal/engine"
	"github.com/danmuck/edgedlt/internal/observability"
	"github.com/danmuck/edgedlt/internal/protocol/frame"
)

var ErrNotListening = errors.New("transport: link is not listening")

// Receiver is the engine side of a link. *engine.Engine satisfies it.
type Receiver interface {
	FrameReceiveStart(n int) bool
	FrameReceiveChunk(b []byte) engine.RxResult
	TxConfirmation(ch int, ok bool)
}

type LinkConfig struct {
	Channel int
	Name    string
	Addr    string
	// MaxFrame bounds inbound frames; larger ones close the connection.
	MaxFrame int
	// BatchLimit is the most bytes handed over per transmission.
	BatchLimit   int
	WriteTimeout time.Duration
	// IdleTimeout closes peers that send nothing for this long. Zero keeps
	// them open.
	IdleTimeout time.Duration
	Backoff     BackoffConfig
}

func (c LinkConfig) withDefaults() LinkConfig {
	if c.MaxFrame <= 0 {
		c.MaxFrame = frame.MaxLen
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 16 * 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.Backoff.Attempts <= 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

type Link struct {
	cfg LinkConfig
	log zerolog.Logger

	mu    sync.Mutex
	rx    Receiver
	ln    net.Listener
	peers map[net.Conn]struct{}

	inflight atomic.Bool
	wg       sync.WaitGroup
}

func NewLink(cfg LinkConfig) *Link {
	cfg = cfg.withDefaults()
	return &Link{
		cfg:   cfg,
		log:   log.With().Str("channel", cfg.Name).Logger(),
		peers: make(map[net.Conn]struct{}),
	}
}

func (l *Link) bind(rx Receiver) {
	l.mu.Lock()
	l.rx = rx
	l.mu.Unlock()
}

func (l *Link) receiver() Receiver {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rx
}

// Listen binds the configured address. Serve accepts on it.
func (l *Link) Listen() error {
	ln, err := net.Listen("tcp", strings.TrimSpace(l.cfg.Addr))
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", l.cfg.Addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

func (l *Link) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts peers until ctx is done, then closes every connection.
func (l *Link) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}
	l.log.Info().Str("addr", ln.Addr().String()).Msg("dlt link listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	defer l.wg.Wait()
	defer l.closePeers()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.addPeer(conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handlePeer(ctx, conn)
		}()
	}
}

func (l *Link) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

func (l *Link) addPeer(conn net.Conn) {
	l.mu.Lock()
	l.peers[conn] = struct{}{}
	n := len(l.peers)
	l.mu.Unlock()
	observability.SetLowerPeers(n)
	l.log.Info().Str("remote", conn.RemoteAddr().String()).Int("peers", n).Msg("dlt peer connected")
}

func (l *Link) dropPeer(conn net.Conn) {
	l.mu.Lock()
	_, ok := l.peers[conn]
	delete(l.peers, conn)
	n := len(l.peers)
	l.mu.Unlock()
	if !ok {
		return
	}
	_ = conn.Close()
	observability.SetLowerPeers(n)
	l.log.Info().Str("remote", conn.RemoteAddr().String()).Int("peers", n).Msg("dlt peer disconnected")
}

func (l *Link) closePeers() {
	l.mu.Lock()
	conns := make([]net.Conn, 0, len(l.peers))
	for c := range l.peers {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		l.dropPeer(c)
	}
}

// handlePeer reads one frame at a time and hands it to the engine.
func (l *Link) handlePeer(ctx context.Context, conn net.Conn) {
	defer l.dropPeer(conn)
	for {
		if l.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))
		}
		raw, err := frame.ReadFrame(conn, l.cfg.MaxFrame)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("dlt peer read failed")
			}
			return
		}
		l.receive(ctx, raw)
	}
}

// receive offers raw to the engine, retrying while the previous request is
// still pending.
func (l *Link) receive(ctx context.Context, raw []byte) {
	rx := l.receiver()
	if rx == nil {
		observability.RecordLowerFrame("rx", "unbound")
		return
	}
	for attempt := 1; ; attempt++ {
		if rx.FrameReceiveStart(len(raw)) {
			rx.FrameReceiveChunk(raw)
			observability.RecordLowerFrame("rx", "accepted")
			return
		}
		if attempt >= l.cfg.Backoff.Attempts {
			observability.RecordLowerFrame("rx", "dropped")
			l.log.Debug().Int("bytes", len(raw)).Msg("engine busy, request dropped")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(nextDelay(l.cfg.Backoff, attempt)):
		}
	}
}

func (l *Link) capacity() int {
	if l.inflight.Load() {
		return 0
	}
	return l.cfg.BatchLimit
}

// transmit copies b and writes it to every peer in the background. The
// engine learns the result through TxConfirmation.
func (l *Link) transmit(b []byte) engine.TxResult {
	if !l.inflight.CompareAndSwap(false, true) {
		observability.RecordLowerFrame("tx", "busy")
		return engine.TxBusy
	}
	l.mu.Lock()
	rx := l.rx
	conns := make([]net.Conn, 0, len(l.peers))
	for c := range l.peers {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	if len(conns) == 0 {
		l.inflight.Store(false)
		observability.RecordLowerFrame("tx", "no_peer")
		if rx != nil {
			rx.TxConfirmation(l.cfg.Channel, true)
		}
		return engine.TxAccepted
	}
	data := append([]byte(nil), b...)
	go l.write(rx, conns, data)
	return engine.TxAccepted
}

func (l *Link) write(rx Receiver, conns []net.Conn, data []byte) {
	delivered := false
	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
		if _, err := c.Write(data); err != nil {
			l.log.Warn().Err(err).Str("remote", c.RemoteAddr().String()).Msg("dlt peer write failed")
			l.dropPeer(c)
			continue
		}
		delivered = true
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	observability.RecordLowerFrame("tx", result)
	l.inflight.Store(false)
	if rx != nil {
		rx.TxConfirmation(l.cfg.Channel, delivered)
	}
}

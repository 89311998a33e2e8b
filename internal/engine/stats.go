package engine

// ChannelStats is a point-in-time view of one channel's counters.
type ChannelStats struct {
	Name             string
	State            State
	DebugMode        DebugMode
	FramesWritten    uint64
	BytesTransmitted uint64
	Overflows        uint64
	TxRejected       uint64
	Timeouts         uint64
	SendBuffered     int
	ControlBuffered  int
}

type Stats struct {
	Mode            Mode
	Filtered        uint64
	ControlRequests uint64
	Channels        []ChannelStats
}

// Stats returns monotonic counters and buffer occupancy. It is safe to call
// before Init.
func (e *Engine) Stats() Stats {
	s := Stats{
		Mode:            e.GetState(),
		Filtered:        e.filtered.Load(),
		ControlRequests: e.controlRequests.Load(),
	}
	e.txMu.Lock()
	channels := e.channels
	s.Channels = make([]ChannelStats, len(channels))
	for i, c := range channels {
		s.Channels[i] = ChannelStats{
			Name:             c.conf.Name,
			DebugMode:        c.debugMode,
			FramesWritten:    c.stats.framesWritten,
			BytesTransmitted: c.stats.bytesTransmitted,
			Overflows:        c.stats.overflows,
			TxRejected:       c.stats.txRejected,
			Timeouts:         c.stats.timeouts,
			SendBuffered:     c.send.Len(),
			ControlBuffered:  c.control.Len(),
		}
	}
	e.txMu.Unlock()
	for i, c := range channels {
		c.smMu.Lock()
		s.Channels[i].State = c.state
		c.smMu.Unlock()
	}
	return s
}

package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danmuck/edgedlt/internal/auth"
	"github.com/danmuck/edgedlt/internal/engine"
	"github.com/danmuck/edgedlt/internal/protocol"
)

func (a *Admin) RegisterRoutes() {
	r := a.router
	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(a.metrics))
	r.GET("/stats", a.stats)

	r.GET("/loginfo", a.logInfo)
	r.GET("/defaults", a.defaults)
	r.GET("/flags", a.flags)
	r.GET("/channels", a.channels)

	w := r.Group("/", a.requireToken)
	w.PUT("/contexts/:app/:ctx/level", a.setLevel)
	w.PUT("/contexts/:app/:ctx/trace", a.setTrace)
	w.PUT("/contexts/:app/:ctx/channels/:channel", a.assign(true))
	w.DELETE("/contexts/:app/:ctx/channels/:channel", a.assign(false))
	w.PUT("/defaults", a.setDefaults)
	w.PUT("/flags/:flag", a.setFlag)
	w.PUT("/channels/:channel/threshold", a.setThreshold)
	w.PUT("/channels/:channel/debug", a.setDebugMode)
	w.POST("/channels/:channel/trigger", a.trigger)
	w.PUT("/state", a.setState)
	w.POST("/store", a.store)
	w.POST("/reset", a.reset)
}

func (a *Admin) requireToken(c *gin.Context) {
	if _, open := a.Auth.(auth.Open); open || a.Auth == nil {
		c.Next()
		return
	}
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err == nil {
		err = a.Auth.Validate(token)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

// fail maps engine errors onto HTTP status codes.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidArgument), errors.Is(err, engine.ErrInvalidChannel),
		errors.Is(err, protocol.ErrUnknownLevel):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrContextNotRegistered), errors.Is(err, engine.ErrNoMatchingContext):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUninit):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrNoStore):
		status = http.StatusNotImplemented
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// idParam reads an identifier path parameter; "*" is the wildcard.
func idParam(c *gin.Context, name string) protocol.ID {
	return wildcardID(c.Param(name))
}

func wildcardID(v string) protocol.ID {
	if v == "*" {
		return protocol.ID{}
	}
	return protocol.MakeID(v)
}

func (a *Admin) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(a.Appeared).String(),
		"service": a.Name,
		"version": version,
		"mode":    a.engine.GetState().String(),
	})
}

type channelView struct {
	Name             string `json:"name"`
	State            string `json:"state"`
	DebugMode        string `json:"debug_mode"`
	FramesWritten    uint64 `json:"frames_written"`
	BytesTransmitted uint64 `json:"bytes_transmitted"`
	Overflows        uint64 `json:"overflows"`
	TxRejected       uint64 `json:"tx_rejected"`
	Timeouts         uint64 `json:"timeouts"`
	SendBuffered     int    `json:"send_buffered"`
	ControlBuffered  int    `json:"control_buffered"`
}

func (a *Admin) stats(c *gin.Context) {
	s := a.engine.Stats()
	channels := make([]channelView, 0, len(s.Channels))
	for _, cs := range s.Channels {
		channels = append(channels, channelView{
			Name:             cs.Name,
			State:            cs.State.String(),
			DebugMode:        cs.DebugMode.String(),
			FramesWritten:    cs.FramesWritten,
			BytesTransmitted: cs.BytesTransmitted,
			Overflows:        cs.Overflows,
			TxRejected:       cs.TxRejected,
			Timeouts:         cs.Timeouts,
			SendBuffered:     cs.SendBuffered,
			ControlBuffered:  cs.ControlBuffered,
		})
	}
	overflow, count := a.engine.OverflowStatus()
	c.JSON(http.StatusOK, gin.H{
		"mode":             s.Mode.String(),
		"filtered":         s.Filtered,
		"control_requests": s.ControlRequests,
		"overflow":         overflow,
		"overflow_count":   count,
		"channels":         channels,
	})
}

type contextView struct {
	ContextID   string   `json:"context_id"`
	LogLevel    string   `json:"log_level"`
	TraceStatus string   `json:"trace_status"`
	Channels    []string `json:"channels"`
}

type appView struct {
	AppID    string        `json:"app_id"`
	Contexts []contextView `json:"contexts"`
}

// logInfo answers GET /loginfo?app=APP1&ctx=CTX1; missing filters match all.
func (a *Admin) logInfo(c *gin.Context) {
	app := wildcardID(c.Query("app"))
	ctx := wildcardID(c.Query("ctx"))
	apps, err := a.engine.GetLogInfo(app, ctx)
	if err != nil {
		fail(c, err)
		return
	}
	names := a.engine.ChannelNames()
	out := make([]appView, 0, len(apps))
	for _, ai := range apps {
		view := appView{AppID: ai.AppID.String()}
		for _, ci := range ai.Contexts {
			cv := contextView{
				ContextID:   ci.ContextID.String(),
				LogLevel:    ci.LogLevel.String(),
				TraceStatus: ci.TraceStatus.String(),
				Channels:    []string{},
			}
			for i, name := range names {
				if ci.Channels&(1<<uint(i)) != 0 {
					cv.Channels = append(cv.Channels, name)
				}
			}
			view.Contexts = append(view.Contexts, cv)
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"applications": out})
}

type levelRequest struct {
	Level string `json:"level" binding:"required"`
}

type traceRequest struct {
	Status string `json:"status" binding:"required"`
}

func (a *Admin) setLevel(c *gin.Context) {
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	level, err := protocol.ParseLogLevel(req.Level)
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.engine.SetLogLevel(idParam(c, "app"), idParam(c, "ctx"), level); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (a *Admin) setTrace(c *gin.Context) {
	var req traceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := protocol.ParseTraceStatus(req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.engine.SetTraceStatus(idParam(c, "app"), idParam(c, "ctx"), status); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (a *Admin) assign(add bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := a.engine.AssignChannel(idParam(c, "app"), idParam(c, "ctx"), c.Param("channel"), add)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c)
	}
}

func (a *Admin) defaults(c *gin.Context) {
	level, err := a.engine.DefaultLogLevel()
	if err != nil {
		fail(c, err)
		return
	}
	trace, err := a.engine.DefaultTraceStatus()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log_level": level.String(), "trace_status": trace.String()})
}

type defaultsRequest struct {
	LogLevel    string `json:"log_level"`
	TraceStatus string `json:"trace_status"`
}

func (a *Admin) setDefaults(c *gin.Context) {
	var req defaultsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.LogLevel != "" {
		level, err := protocol.ParseLogLevel(req.LogLevel)
		if err == nil {
			err = a.engine.SetDefaultLogLevel(level)
		}
		if err != nil {
			fail(c, err)
			return
		}
	}
	if req.TraceStatus != "" {
		status, err := protocol.ParseTraceStatus(req.TraceStatus)
		if err == nil {
			err = a.engine.SetDefaultTraceStatus(status)
		}
		if err != nil {
			fail(c, err)
			return
		}
	}
	ok(c)
}

func (a *Admin) flags(c *gin.Context) {
	out := gin.H{}
	for f := engine.FlagEcuID; f <= engine.FlagMessageFiltering; f++ {
		on, err := a.engine.Flag(f)
		if err != nil {
			fail(c, err)
			return
		}
		out[f.String()] = on
	}
	c.JSON(http.StatusOK, out)
}

type flagRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (a *Admin) setFlag(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := engine.ParseFlag(c.Param("flag"))
	if err == nil {
		err = a.engine.SetFlag(f, *req.Enabled)
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (a *Admin) channels(c *gin.Context) {
	stats := a.engine.Stats()
	out := make([]gin.H, 0, len(stats.Channels))
	for _, cs := range stats.Channels {
		level, trace, err := a.engine.ChannelThreshold(cs.Name)
		if err != nil {
			fail(c, err)
			return
		}
		out = append(out, gin.H{
			"name":         cs.Name,
			"threshold":    level.String(),
			"trace_status": trace,
			"debug_mode":   cs.DebugMode.String(),
			"state":        cs.State.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

type thresholdRequest struct {
	Level string `json:"level" binding:"required"`
	Trace bool   `json:"trace"`
}

func (a *Admin) setThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	level, err := protocol.ParseLogLevel(req.Level)
	if err == nil {
		err = a.engine.SetChannelThreshold(c.Param("channel"), level, req.Trace)
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

type debugRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (a *Admin) setDebugMode(c *gin.Context) {
	var req debugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := engine.ParseDebugMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.engine.SetDebugMode(c.Param("channel"), mode); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (a *Admin) trigger(c *gin.Context) {
	if err := a.engine.TriggerDebugEvent(c.Param("channel")); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

type stateRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (a *Admin) setState(c *gin.Context) {
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var mode engine.Mode
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "online":
		mode = engine.ModeOnline
	case "offline":
		mode = engine.ModeOffline
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be online or offline"})
		return
	}
	if err := a.engine.SetState(mode); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (a *Admin) store(c *gin.Context) {
	if err := a.engine.Store(); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (a *Admin) reset(c *gin.Context) {
	if err := a.engine.ResetToFactoryDefault(); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

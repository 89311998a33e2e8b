package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgedlt/internal/registry"
)

var (
	ErrUninit          = errors.New("engine: not initialized")
	ErrInvalidArgument = errors.New("engine: invalid argument")
	ErrInvalidChannel  = errors.New("engine: invalid channel")
	ErrInvalidConfig   = errors.New("engine: invalid config")
	ErrNoSnapshot      = errors.New("engine: no stored snapshot")
	ErrNoStore         = errors.New("engine: no persistent store")

	// Protocol outcomes; returned to the caller, never reported.
	ErrContextNotRegistered = registry.ErrNotRegistered
	ErrUnknownSessionID     = registry.ErrUnknownSessionID
	ErrNoMatchingContext    = registry.ErrNoMatchingContext
)

// ErrorCode classifies a contract violation for the ErrorSink.
type ErrorCode uint8

const (
	CodeUninit ErrorCode = iota + 1
	CodeInvalidArgument
	CodeInvalidChannel
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUninit:
		return "uninit"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeInvalidChannel:
		return "invalid_channel"
	default:
		return "unknown"
	}
}

const componentName = "dlt"

// ContractError is returned for programming-contract violations after they
// have been reported to the ErrorSink.
type ContractError struct {
	Component string
	API       string
	Code      ErrorCode
	Err       error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.API, e.Code, e.Err)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// LogSink reports contract violations through the global zerolog logger.
type LogSink struct{}

func (LogSink) Report(component, api string, code ErrorCode) {
	log.Error().
		Str("component", component).
		Str("api", api).
		Str("code", code.String()).
		Msg("dlt contract violation")
}

func (e *Engine) contract(api string, code ErrorCode, err error) error {
	e.sink.Report(componentName, api, code)
	return &ContractError{Component: componentName, API: api, Code: code, Err: err}
}

// ready reports ErrUninit to the sink when the engine has not been
// initialised.
func (e *Engine) ready(api string) error {
	if e.initialized.Load() {
		return nil
	}
	return e.contract(api, CodeUninit, ErrUninit)
}

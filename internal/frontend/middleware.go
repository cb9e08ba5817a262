package frontend

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{logx.Duration("dur", d)}
			switch {
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWErrorReply turns a handler error into a reply. Admission refusals use
// their own message; anything else gets a generic one.
func MWErrorReply() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			_ = req.Reply(context.WithoutCancel(ctx), userMessage(err))
			return err
		}
	}
}

// usageError is returned by handlers for malformed arguments.
type usageError struct{ usage string }

func (e *usageError) Error() string { return "usage: " + e.usage }

func usage(u string) error { return &usageError{usage: u} }

func userMessage(err error) string {
	var ae *tenant.AdmissionError
	var ue *usageError
	switch {
	case errors.As(err, &ae):
		return ae.Message()
	case errors.As(err, &ue):
		return "Usage: " + ue.usage
	default:
		if msg, ok := knownMessage(err); ok {
			return msg
		}
		return "⚠️ Something went wrong. Please try again later."
	}
}

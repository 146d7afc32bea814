package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "tailwatch/pkg/logx"
)

// slowCommand promotes a successful command's log line from debug to info.
const slowCommand = 750 * time.Millisecond

type Handler func(ctx context.Context, req *Request) error

// Layer wraps a Handler. Layers passed to wrap run outermost first.
type Layer func(next Handler) Handler

func wrap(h Handler, layers ...Layer) Handler {
	for i := len(layers) - 1; i >= 0; i-- {
		h = layers[i](h)
	}
	return h
}

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

func withDeadline(d time.Duration) Layer {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// withRecover turns a handler panic into an error so the caller can still
// reply in the channel.
func withRecover(log logx.Logger) Layer {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestLogger(log, req).Error("command panicked",
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

func withCommandLog(log logx.Logger) Layer {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := requestLogger(log, req)
			fields := []logx.Field{logx.Duration("dur", took)}
			if req != nil {
				fields = append(fields, logx.Int("args", len(req.Args)))
			}
			var missing *MissingArgError
			switch {
			case errors.As(err, &missing):
				l.Debug("command missing argument", append(fields, logx.String("arg", missing.Name))...)
			case err != nil:
				l.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= slowCommand:
				l.Info("command slow", fields...)
			default:
				l.Debug("command ok", fields...)
			}
			return err
		}
	}
}

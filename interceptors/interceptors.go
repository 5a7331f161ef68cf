// Package interceptors provides ready-made connkit interceptors and
// routing handlers.
package interceptors

import (
	"sync/atomic"
	"time"

	"github.com/gokit/errors"
	"golang.org/x/time/rate"

	"github.com/gokit/connkit"
)

// Log logs every new connection and the outcome of its handling.
func Log[I, O any](logs connkit.Logs) connkit.Interceptor[I, O, I, O] {
	return func(next connkit.Handler[I, O]) connkit.Handler[I, O] {
		return connkit.HandlerFunc[I, O](func(c connkit.Connection[I, O]) *connkit.Future {
			start := time.Now()
			connkit.LogMsg("Received a new connection").
				String("connection", c.ID()).
				WriteInfo(logs)

			future := next.Handle(c)
			future.Watch(func(err error) {
				connkit.LogMsg("Connection handled").
					String("connection", c.ID()).
					Int64("elapsed_ms", time.Since(start).Milliseconds()).
					Error(err).
					WriteInfo(logs)
			})
			return future
		})
	}
}

// Text adapts a byte connection into a string one.
func Text() connkit.Interceptor[[]byte, []byte, string, string] {
	return func(next connkit.Handler[string, string]) connkit.Handler[[]byte, []byte] {
		return connkit.HandlerFunc[[]byte, []byte](func(c connkit.Connection[[]byte, []byte]) *connkit.Future {
			return next.Handle(connkit.MapConnection(c, bytesToString, stringToBytes))
		})
	}
}

func bytesToString(b []byte) string {
	return string(b)
}

func stringToBytes(s string) []byte {
	return []byte(s)
}

// Alternate short-circuits every second connection, writing reply to it
// instead of handing it further down the chain.
func Alternate[I, O any](reply O, logs connkit.Logs) connkit.Interceptor[I, O, I, O] {
	return func(next connkit.Handler[I, O]) connkit.Handler[I, O] {
		var counter int64
		return connkit.HandlerFunc[I, O](func(c connkit.Connection[I, O]) *connkit.Future {
			if atomic.AddInt64(&counter, 1)%2 != 0 {
				return next.Handle(c)
			}

			connkit.LogMsg("Short-circuiting further processing").
				String("connection", c.ID()).
				WriteDebug(logs)
			return c.Write(connkit.Just(reply))
		})
	}
}

// RateLimit rejects connections arriving faster than limiter allows with
// connkit.ErrRejected.
func RateLimit[I, O any](limiter *rate.Limiter, logs connkit.Logs) connkit.Interceptor[I, O, I, O] {
	return func(next connkit.Handler[I, O]) connkit.Handler[I, O] {
		return connkit.HandlerFunc[I, O](func(c connkit.Connection[I, O]) *connkit.Future {
			if limiter.Allow() {
				return next.Handle(c)
			}

			connkit.LogMsg("Connection rate exceeded").
				String("connection", c.ID()).
				WriteWarn(logs)
			return connkit.Rejected(errors.Wrap(connkit.ErrRejected, "connection %q exceeded rate limit", c.ID()))
		})
	}
}

package connkit_test

import (
	"testing"

	"github.com/gokit/connkit"
	"github.com/gokit/connkit/mocks"
	"github.com/stretchr/testify/require"
)

type stringHandler = connkit.Handler[string, string]

func tracing(name string, calls *[]string) connkit.Interceptor[string, string, string, string] {
	return func(next stringHandler) stringHandler {
		return connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
			*calls = append(*calls, name)
			return next.Handle(c)
		})
	}
}

func TestChain(t *testing.T) {
	t.Run("runs interceptors in order", func(t *testing.T) {
		var calls []string
		chain := connkit.Intercept(tracing("A", &calls)).Then(tracing("B", &calls))
		require.Equal(t, 2, chain.Len())

		handler := chain.Last(connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
			calls = append(calls, "T")
			return connkit.Resolved()
		}))

		conn := connkit.NewConn[string](mocks.NewTransport[string]("conn-1"), nil)
		require.NoError(t, handler.Handle(conn).Wait())
		require.Equal(t, []string{"A", "B", "T"}, calls)
	})

	t.Run("short circuit skips the rest", func(t *testing.T) {
		var calls []string
		reject := func(next stringHandler) stringHandler {
			return connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
				calls = append(calls, "reject")
				return connkit.Rejected(connkit.ErrRejected)
			})
		}

		handler := connkit.Intercept(tracing("A", &calls)).
			Then(reject).
			Then(tracing("B", &calls)).
			Last(connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
				calls = append(calls, "T")
				return connkit.Resolved()
			}))

		conn := connkit.NewConn[string](mocks.NewTransport[string]("conn-1"), nil)
		require.Equal(t, connkit.ErrRejected, handler.Handle(conn).Wait())
		require.Equal(t, []string{"A", "reject"}, calls)
	})

	t.Run("appending never changes the receiver", func(t *testing.T) {
		var calls []string
		base := connkit.Intercept(tracing("A", &calls))
		withB := base.Then(tracing("B", &calls))
		withC := base.Then(tracing("C", &calls))
		require.Equal(t, 1, base.Len())

		last := connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
			return connkit.Resolved()
		})
		conn := connkit.NewConn[string](mocks.NewTransport[string]("conn-1"), nil)

		require.NoError(t, withB.Last(last).Handle(conn).Wait())
		require.NoError(t, withC.Last(last).Handle(conn).Wait())
		require.NoError(t, base.Last(last).Handle(conn).Wait())
		require.Equal(t, []string{"A", "B", "A", "C", "A"}, calls)
	})

	t.Run("converts element types", func(t *testing.T) {
		var toText connkit.Interceptor[[]byte, []byte, string, string] = func(next connkit.Handler[string, string]) connkit.Handler[[]byte, []byte] {
			return connkit.HandlerFunc[[]byte, []byte](func(c connkit.Connection[[]byte, []byte]) *connkit.Future {
				return next.Handle(connkit.MapConnection(c,
					func(b []byte) string { return string(b) },
					func(s string) []byte { return []byte(s) },
				))
			})
		}

		var calls []string
		chain := connkit.Next(
			connkit.Intercept[[]byte, []byte, []byte, []byte](func(next connkit.Handler[[]byte, []byte]) connkit.Handler[[]byte, []byte] {
				return next
			}),
			toText,
		).Then(tracing("A", &calls))
		require.Equal(t, 3, chain.Len())

		transport := mocks.NewTransport[[]byte]("conn-1")
		handler := chain.Last(connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
			return c.Write(connkit.Just("hello"))
		}))

		require.NoError(t, handler.Handle(connkit.NewConn[[]byte](transport, nil)).Wait())
		require.Equal(t, [][]byte{[]byte("hello")}, transport.Writes())
		require.Equal(t, []string{"A"}, calls)
	})

	t.Run("empty chain", func(t *testing.T) {
		var chain connkit.Chain[string, string, string, string]
		require.Panics(t, func() {
			chain.Last(connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
				return connkit.Resolved()
			}))
		})
	})
}

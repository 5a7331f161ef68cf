package interceptors_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	gerrors "github.com/gokit/errors"
	"github.com/stretchr/testify/require"

	"github.com/gokit/connkit"
	"github.com/gokit/connkit/interceptors"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func TestCircuitBreaker(t *testing.T) {
	clk := &clock{now: time.Unix(0, 0)}

	var trips, closes int
	breaker := interceptors.NewCircuitBreaker("handler", interceptors.Circuit{
		MaxFailures: 2,
		MinCoolDown: time.Second,
		Now:         clk.Now,
		OnTrip:      func(string, error) { trips++ },
		OnClose:     func(string) { closes++ },
	})

	failing := true
	var calls int
	handler := connkit.Intercept(interceptors.Break[string, string](breaker, nil)).
		Last(connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
			calls++
			if failing {
				return connkit.Rejected(errors.New("handler failed"))
			}
			return connkit.Resolved()
		}))

	handle := func(i int) error {
		conn, _ := newConn[string](fmt.Sprintf("conn-%d", i))
		return handler.Handle(conn).Wait()
	}

	require.Error(t, handle(1))
	require.False(t, breaker.IsOpened())
	require.Error(t, handle(2))
	require.True(t, breaker.IsOpened())
	require.Equal(t, 1, trips)

	err := handle(3)
	require.True(t, gerrors.IsAny(err, connkit.ErrRejected))
	require.Equal(t, 2, calls)

	// half open after the cool down, a failure opens it for longer.
	clk.now = clk.now.Add(time.Second)
	require.Error(t, handle(4))
	require.Equal(t, 3, calls)
	require.Equal(t, 2, trips)

	clk.now = clk.now.Add(time.Second)
	require.True(t, gerrors.IsAny(handle(5), connkit.ErrRejected))

	clk.now = clk.now.Add(time.Second)
	failing = false
	require.NoError(t, handle(6))
	require.False(t, breaker.IsOpened())
	require.Equal(t, 1, closes)
	require.NoError(t, handle(7))
}

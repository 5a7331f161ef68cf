package connkit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gokit/connkit"
	"github.com/gokit/connkit/internal/tlog"
	"github.com/gokit/connkit/mocks"
	gerrors "github.com/gokit/errors"
	"github.com/stretchr/testify/require"
)

func TestWriteCoordinator(t *testing.T) {
	t.Run("writes then flushes on completion", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		writer := connkit.NewWriteCoordinator[string](transport, nil)

		future := writer.Submit(connkit.Source(connkit.FromSlice("A", "B")))
		require.NoError(t, future.Wait())
		require.Equal(t, []string{"A", "B"}, transport.Writes())
		require.Equal(t, []string{mocks.OpWrite, mocks.OpWrite, mocks.OpFlush}, transport.Ops())
		require.Equal(t, 0, writer.Active())
	})

	t.Run("empty stream resolves without flushing", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		writer := connkit.NewWriteCoordinator[string](transport, nil)

		require.NoError(t, writer.Submit(connkit.Source(connkit.Empty[string]())).Wait())
		require.Empty(t, transport.Ops())
	})

	t.Run("batch flushes once", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		writer := connkit.NewWriteCoordinator[string](transport, nil)

		future := writer.Submit(connkit.Batch(connkit.FromSlice("A", "B"), 2))
		require.NoError(t, future.Wait())
		require.Equal(t, []string{mocks.OpWrite, mocks.OpWrite, mocks.OpFlush}, transport.Ops())
	})

	t.Run("rearmed batch flushes every k elements", func(t *testing.T) {
		transport := mocks.NewTransport[int]("conn-1")
		writer := connkit.NewWriteCoordinator[int](transport, nil)

		future := writer.Submit(connkit.Batch(connkit.FromSlice(1, 2, 3, 4, 5), 2).Rearm())
		require.NoError(t, future.Wait())
		require.Equal(t, []string{
			mocks.OpWrite, mocks.OpWrite, mocks.OpFlush,
			mocks.OpWrite, mocks.OpWrite, mocks.OpFlush,
			mocks.OpWrite, mocks.OpFlush,
		}, transport.Ops())
	})

	t.Run("streams take turns", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		transport.SetWritable(false)
		writer := connkit.NewWriteCoordinator[string](transport, nil)

		first := writer.Submit(connkit.Source(connkit.FromSlice("a1", "a2", "a3")))
		second := writer.Submit(connkit.Source(connkit.FromSlice("b1", "b2", "b3")))
		require.Equal(t, []string{"a1", "b1"}, transport.Writes())
		require.Equal(t, 2, writer.Active())

		transport.SetWritable(true)
		writer.Writable()

		require.NoError(t, first.Wait())
		require.NoError(t, second.Wait())
		require.Equal(t, []string{"a1", "b1", "a2", "b2", "a3", "b3"}, transport.Writes())
		require.Equal(t, 0, writer.Active())
	})

	t.Run("streams take turns on each writability change", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		transport.SetWritable(false)
		writer := connkit.NewWriteCoordinator[string](transport, nil)

		first := writer.Submit(connkit.Source(connkit.FromSlice("a1", "a2", "a3")))
		second := writer.Submit(connkit.Source(connkit.FromSlice("b1", "b2", "b3")))
		require.Equal(t, []string{"a1", "b1"}, transport.Writes())

		for i := 0; i < 4; i++ {
			writer.Writable()
		}

		require.NoError(t, first.Wait())
		require.NoError(t, second.Wait())
		require.Equal(t, []string{"a1", "b1", "a2", "b2", "a3", "b3"}, transport.Writes())
		require.Equal(t, 0, writer.Active())
	})

	t.Run("unused credit moves to the next stream", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		transport.SetWritable(false)
		writer := connkit.NewWriteCoordinator[string](transport, nil)

		first := writer.Submit(connkit.Source(connkit.FromSlice("a1", "a2")))
		second := writer.Submit(connkit.Source(connkit.FromSlice("b1", "b2", "b3")))

		transport.SetWritable(true)
		writer.Writable()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, first.WaitContext(ctx))
		require.NoError(t, second.WaitContext(ctx))
		require.Equal(t, []string{"a1", "b1", "a2", "b2", "b3"}, transport.Writes())
		require.Equal(t, 0, writer.Active())
	})

	t.Run("unwritable transport pauses writes", func(t *testing.T) {
		transport := mocks.NewTransport[int]("conn-1")
		transport.SetWritable(false)
		writer := connkit.NewWriteCoordinator[int](transport, nil)

		future := writer.Submit(connkit.Source(connkit.FromSlice(1, 2, 3)))
		require.Equal(t, []int{1}, transport.Writes())

		writer.Writable()
		require.Equal(t, []int{1, 2}, transport.Writes())
		require.False(t, future.IsResolved())

		transport.SetWritable(true)
		writer.Writable()
		require.NoError(t, future.Wait())
		require.Equal(t, []int{1, 2, 3}, transport.Writes())
	})

	t.Run("failed write fails the stream", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		transport.FailWrites(errors.New("broken pipe"))
		var logs tlog.Recorder
		writer := connkit.NewWriteCoordinator[string](transport, &logs)

		future := writer.Submit(connkit.Source(connkit.FromSlice("A", "B")))
		err := future.Wait()
		require.Error(t, err)
		require.True(t, gerrors.IsAny(err, connkit.ErrTransportWrite))
		require.Equal(t, []string{"A"}, transport.Writes())
		require.Equal(t, 1, logs.Count(connkit.WARN))
	})

	t.Run("failed source fails the stream", func(t *testing.T) {
		writer := connkit.NewWriteCoordinator[string](mocks.NewTransport[string]("conn-1"), nil)

		failure := errors.New("no data")
		require.Equal(t, failure, writer.Submit(connkit.Source(connkit.Failed[string](failure))).Wait())
	})

	t.Run("resolves after the last write settles", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		transport.HoldWrites()
		writer := connkit.NewWriteCoordinator[string](transport, nil)

		future := writer.Submit(connkit.Source(connkit.Just("A")))
		require.Equal(t, []string{"A"}, transport.Writes())
		require.False(t, future.IsResolved())

		transport.Release(nil)
		require.NoError(t, future.Wait())
	})

	t.Run("close fails pending streams", func(t *testing.T) {
		transport := mocks.NewTransport[string]("conn-1")
		transport.HoldWrites()
		var logs tlog.Recorder
		writer := connkit.NewWriteCoordinator[string](transport, &logs)

		future := writer.Submit(connkit.Source(connkit.Just("A")))
		writer.Close()
		require.True(t, connkit.IsClosed(future.Wait()))
		require.Equal(t, 1, logs.Count(connkit.DEBUG))

		late := writer.Submit(connkit.Source(connkit.Just("B")))
		require.True(t, connkit.IsClosed(late.Wait()))
		require.Equal(t, []string{"A"}, transport.Writes())
	})
}

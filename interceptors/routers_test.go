package interceptors_test

import (
	"fmt"
	"testing"

	gerrors "github.com/gokit/errors"
	"github.com/stretchr/testify/require"

	"github.com/gokit/connkit"
	"github.com/gokit/connkit/interceptors"
)

func named(name string, seen *[]string) connkit.Handler[string, string] {
	return connkit.HandlerFunc[string, string](func(c connkit.Connection[string, string]) *connkit.Future {
		*seen = append(*seen, name)
		return connkit.Resolved()
	})
}

func TestHashedRouter(t *testing.T) {
	var seen []string
	router := interceptors.NewHashedRouter(map[string]connkit.Handler[string, string]{
		"a": named("a", &seen),
		"b": named("b", &seen),
		"c": named("c", &seen),
	})

	expected, ok := router.Route("conn-1")
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		conn, _ := newConn[string]("conn-1")
		require.NoError(t, router.Handle(conn).Wait())
	}
	require.Equal(t, []string{expected, expected, expected}, seen)

	router.Remove("a")
	router.Remove("b")
	router.Remove("c")
	_, ok = router.Route("conn-1")
	require.False(t, ok)

	conn, _ := newConn[string]("conn-1")
	require.True(t, gerrors.IsAny(router.Handle(conn).Wait(), interceptors.ErrNoRoute))

	router.Add("d", named("d", &seen))
	conn, _ = newConn[string]("conn-1")
	require.NoError(t, router.Handle(conn).Wait())
	require.Equal(t, "d", seen[len(seen)-1])
}

func TestRoundRobinRouter(t *testing.T) {
	var seen []string
	router := interceptors.NewRoundRobinRouter(named("a", &seen), named("b", &seen))
	router.Add(named("c", &seen))
	require.Equal(t, 3, router.Total())

	for i := 0; i < 6; i++ {
		conn, _ := newConn[string](fmt.Sprintf("conn-%d", i))
		require.NoError(t, router.Handle(conn).Wait())
	}
	require.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, seen)

	empty := interceptors.NewRoundRobinRouter[string, string]()
	conn, _ := newConn[string]("conn-1")
	require.True(t, gerrors.IsAny(empty.Handle(conn).Wait(), interceptors.ErrNoRoute))
}

func TestRandomRouter(t *testing.T) {
	var seen []string
	router := interceptors.NewRandomRouter(named("a", &seen), named("b", &seen))

	for i := 0; i < 10; i++ {
		conn, _ := newConn[string](fmt.Sprintf("conn-%d", i))
		require.NoError(t, router.Handle(conn).Wait())
	}
	require.Len(t, seen, 10)
	for _, name := range seen {
		require.Contains(t, []string{"a", "b"}, name)
	}
}

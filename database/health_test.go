package database_test

import (
	"net"
	"testing"

	"github.com/streamstore/mssqlfixture/database"
	"github.com/stretchr/testify/require"
)

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	t.Run("refused_is_not_ready", func(t *testing.T) {
		t.Parallel()
		// Grab a free port and release it so nothing is listening.
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())

		healthy, err := database.CheckHealth(t.Context(), database.Descriptor{
			Host:     "127.0.0.1",
			Port:     port,
			User:     "sa",
			Password: "password",
		})
		require.NoError(t, err)
		require.False(t, healthy)
	})
	t.Run("malformed_is_fatal", func(t *testing.T) {
		t.Parallel()
		healthy, err := database.CheckHealth(t.Context(), database.Descriptor{Port: 1433, User: "sa"})
		require.ErrorIs(t, err, database.ErrConfig)
		require.False(t, healthy)
	})
}

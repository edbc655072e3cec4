package migration

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func addr(s string) net.Addr {
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestHasChanged(t *testing.T) {
	tr := New(addr("1.2.3.4:100"), time.Second, 10)
	require.False(t, tr.HasChanged(addr("1.2.3.4:100")))
	require.True(t, tr.HasChanged(addr("1.2.3.4:200")))
}

func TestMigrateSucceedsAndUpdatesState(t *testing.T) {
	now := time.Now()
	tr := New(addr("1.2.3.4:100"), time.Second, 10)
	ok := tr.Migrate(addr("1.2.3.4:200"), now)
	require.True(t, ok)
	require.Equal(t, "1.2.3.4:200", tr.Current().String())
	require.Equal(t, 1, tr.MigrationCount())
}

func TestMigrateRejectsWithinMinInterval(t *testing.T) {
	now := time.Now()
	tr := New(addr("1.2.3.4:100"), time.Second, 10)
	require.True(t, tr.Migrate(addr("1.2.3.4:200"), now))
	require.False(t, tr.Migrate(addr("1.2.3.4:300"), now.Add(500*time.Millisecond)))
	require.Equal(t, "1.2.3.4:200", tr.Current().String())
}

func TestMigrateAllowsAfterMinInterval(t *testing.T) {
	now := time.Now()
	tr := New(addr("1.2.3.4:100"), time.Second, 10)
	require.True(t, tr.Migrate(addr("1.2.3.4:200"), now))
	require.True(t, tr.Migrate(addr("1.2.3.4:300"), now.Add(2*time.Second)))
}

func TestMigrateRejectsAfterMaxCount(t *testing.T) {
	now := time.Now()
	tr := New(addr("1.2.3.4:100"), time.Second, 10)
	for i := 0; i < 10; i++ {
		now = now.Add(2 * time.Second)
		require.True(t, tr.Migrate(addr("1.2.3.4:200"), now), "migration %d", i)
	}
	now = now.Add(2 * time.Second)
	require.False(t, tr.Migrate(addr("1.2.3.4:300"), now))
	require.Equal(t, 10, tr.MigrationCount())
}

func TestValidateAcceptsOriginalOrCurrent(t *testing.T) {
	now := time.Now()
	tr := New(addr("1.2.3.4:100"), time.Second, 10)
	require.True(t, tr.Validate(addr("1.2.3.4:100")))
	require.False(t, tr.Validate(addr("1.2.3.4:200")))

	tr.Migrate(addr("1.2.3.4:200"), now)
	require.True(t, tr.Validate(addr("1.2.3.4:200")))
	require.True(t, tr.Validate(addr("1.2.3.4:100")))
	require.False(t, tr.Validate(addr("1.2.3.4:999")))
}

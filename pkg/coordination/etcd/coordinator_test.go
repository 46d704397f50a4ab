package etcd_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detox/pkg/coordination"
	"detox/pkg/coordination/etcd"
)

func newCoordinator(t *testing.T) *etcd.EtcdCoordinator {
	t.Helper()
	endpoints := os.Getenv("DETOX_TEST_ETCD_ENDPOINTS")
	if endpoints == "" || testing.Short() {
		t.Skip("DETOX_TEST_ETCD_ENDPOINTS not set")
	}
	c, err := etcd.NewEtcdCoordinator(strings.Split(endpoints, ","), 5)
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockKey(t *testing.T) {
	a := etcd.LockKey("/work/a")
	assert.True(t, strings.HasPrefix(a, "/detox/workspaces/"))
	assert.Equal(t, a, etcd.LockKey("/work/a"))
	assert.NotEqual(t, a, etcd.LockKey("/work/b"))
}

func TestTryLock_Exclusive(t *testing.T) {
	first := newCoordinator(t)
	second := newCoordinator(t)
	ctx := context.Background()
	dir := "/work/" + t.Name()

	lease, err := first.TryLock(ctx, dir, "host-a")
	require.NoError(t, err)

	holder, err := second.Holder(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "host-a", holder)

	_, err = second.TryLock(ctx, dir, "host-b")
	assert.ErrorIs(t, err, coordination.ErrLocked)

	require.NoError(t, lease.Unlock(ctx))

	lease, err = second.TryLock(ctx, dir, "host-b")
	require.NoError(t, err)
	require.NoError(t, lease.Unlock(ctx))
}

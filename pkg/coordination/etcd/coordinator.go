package etcd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"detox/pkg/coordination"
)

// lockPrefix is the etcd key prefix of workspace locks.
const lockPrefix = "/detox/workspaces/"

type EtcdCoordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
}

// NewEtcdCoordinator connects to etcd. ttl is the lease lifetime in seconds:
// a crashed holder releases its workspace after at most ttl.
func NewEtcdCoordinator(endpoints []string, ttl int) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// The session keeps the lease alive via heartbeats while the run is going.
	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	return &EtcdCoordinator{
		client:  cli,
		session: sess,
	}, nil
}

func (c *EtcdCoordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// LockKey returns the etcd prefix guarding workDir.
func LockKey(workDir string) string {
	sum := sha256.Sum256([]byte(workDir))
	return lockPrefix + hex.EncodeToString(sum[:8])
}

// holderKey sits beside the mutex prefix, not under it, so it never competes for the lock.
func holderKey(lockKey string) string {
	return lockKey + ".holder"
}

// Holder returns who currently holds the lock on workDir, if anyone.
func (c *EtcdCoordinator) Holder(ctx context.Context, workDir string) (string, error) {
	resp, err := c.client.Get(ctx, holderKey(LockKey(workDir)))
	if err != nil {
		return "", fmt.Errorf("failed to read lock holder: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

func (c *EtcdCoordinator) TryLock(ctx context.Context, workDir, holder string) (coordination.Lease, error) {
	key := LockKey(workDir)
	m := concurrency.NewMutex(c.session, key)
	if err := m.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, coordination.ErrLocked
		}
		return nil, fmt.Errorf("failed to lock %s: %w", workDir, err)
	}

	// record who holds it, for operators inspecting etcd
	if _, err := c.client.Put(ctx, holderKey(key), holder, clientv3.WithLease(c.session.Lease())); err != nil {
		_ = m.Unlock(ctx)
		return nil, fmt.Errorf("failed to record lock holder: %w", err)
	}
	return &EtcdLease{mutex: m, client: c.client, holderKey: holderKey(key)}, nil
}

// EtcdLease wraps the etcd concurrency.Mutex struct
type EtcdLease struct {
	mutex     *concurrency.Mutex
	client    *clientv3.Client
	holderKey string
}

func (l *EtcdLease) Unlock(ctx context.Context) error {
	if _, err := l.client.Delete(ctx, l.holderKey); err != nil {
		return fmt.Errorf("failed to clear lock holder: %w", err)
	}
	return l.mutex.Unlock(ctx)
}

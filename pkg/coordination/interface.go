package coordination

import (
	"context"
	"errors"
)

// ErrLocked is returned when another invocation holds the workspace.
var ErrLocked = errors.New("workspace is locked by another run")

// Locker hands out exclusive leases on a working directory.
type Locker interface {
	// TryLock acquires the workspace lock without waiting.
	// It returns ErrLocked when another holder has it.
	TryLock(ctx context.Context, workDir, holder string) (Lease, error)

	// Holder reports who holds the workspace, empty when it is free.
	Holder(ctx context.Context, workDir string) (string, error)

	// Close terminates the coordinator connection.
	Close() error
}

// Lease is a held workspace lock.
type Lease interface {
	Unlock(ctx context.Context) error
}

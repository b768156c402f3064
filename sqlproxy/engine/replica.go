package engine

import (
	"context"
	"errors"
)

// ReplicaTarget describes what a Syncer should bring up to date.
type ReplicaTarget struct {
	Path      string // Local replica file
	URL       string // Primary database
	AuthToken string
}

// Syncer pulls changes from a primary into a local replica file. The host
// treats it as opaque and only bounds how long it waits for it.
type Syncer interface {
	Sync(ctx context.Context, target ReplicaTarget) error
}

// SyncFunc adapts a function to the Syncer interface.
type SyncFunc func(ctx context.Context, target ReplicaTarget) error

func (f SyncFunc) Sync(ctx context.Context, target ReplicaTarget) error {
	return f(ctx, target)
}

// ErrNoSyncer is returned when a replica is opened without a Syncer.
var ErrNoSyncer = errors.New("remote replica requires a syncer")

type replicaConn struct {
	*sqlConn
	syncer Syncer
	target ReplicaTarget
}

// OpenReplica opens the local replica at target.Path with driverName and
// binds it to syncer for later Sync calls. It does not sync.
func OpenReplica(ctx context.Context, driverName string, target ReplicaTarget, syncer Syncer) (Conn, error) {
	if syncer == nil {
		return nil, ErrNoSyncer
	}
	if err := CheckAuthToken(target.AuthToken); err != nil {
		return nil, err
	}

	c, err := openLocal(ctx, driverName, target.Path)
	if err != nil {
		return nil, err
	}
	return &replicaConn{sqlConn: c, syncer: syncer, target: target}, nil
}

func (c *replicaConn) Sync(ctx context.Context) error {
	return c.syncer.Sync(ctx, c.target)
}

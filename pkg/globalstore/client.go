// Package globalstore defines LLS's contract with the authoritative
// location directory and role-lease service (spec.md component G, §6).
package globalstore

import (
	"context"

	"locationstore.dev/lls/pkg/clusterstate"
	"locationstore.dev/lls/pkg/contenthash"
	"locationstore.dev/lls/pkg/eventstore"
)

// Role is this node's role as assigned by the Global Store's lease
// service (spec.md Glossary, "Role").
type Role int

const (
	RoleUnknown Role = iota
	RoleWorker
	RoleMaster
)

func (r Role) String() string {
	switch r {
	case RoleWorker:
		return "Worker"
	case RoleMaster:
		return "Master"
	default:
		return "Unknown"
	}
}

// CheckpointState is the result of GetCheckpointState (spec.md §6).
type CheckpointState struct {
	Role                Role
	StartSequencePoint  eventstore.SequencePoint
	CheckpointID        string
	CheckpointAvailable bool
}

// HashSize pairs a hash with a size, used by RegisterLocalLocation.
type HashSize struct {
	Hash contenthash.Hash
	Size uint64
}

// LocationEntry is one GetBulk result row: the machines a hash resolves
// to, as known by the authoritative directory.
type LocationEntry struct {
	Hash       contenthash.Hash
	Size       uint64
	MachineIDs []uint32
}

// Client is the RPC surface LLS consumes from the Global Store (spec.md
// §6). Its wire protocol is out of scope (spec.md §1); implementations
// live in sibling packages (e.g. grpcclient).
type Client interface {
	GetCheckpointState(ctx context.Context) (CheckpointState, error)
	ReleaseRoleIfNecessary(ctx context.Context) (Role, error)
	UpdateClusterState(ctx context.Context, snapshot clusterstate.Snapshot) error
	// FetchClusterState returns the Global Store's view of the
	// MachineId to MachineLocation mapping, which replaces this node's
	// Cluster State mapping during a heartbeat
	// (spec.md §4.3 step 5). Not enumerated among the "Global Store
	// RPCs consumed" in spec.md §6, whose list is explicitly qualified
	// as "not defined here"; a two-way cluster state sync requires a
	// pull counterpart to UpdateClusterState's push.
	FetchClusterState(ctx context.Context) (clusterstate.Snapshot, error)
	RegisterLocalLocation(ctx context.Context, hashesWithSize []HashSize) error
	GetBulk(ctx context.Context, hashes []contenthash.Hash) ([]LocationEntry, error)
	InvalidateLocalMachine(ctx context.Context) error
	PutBlob(ctx context.Context, key string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
}

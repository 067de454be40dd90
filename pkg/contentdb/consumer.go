package contentdb

import (
	"time"

	"locationstore.dev/lls/pkg/clusterstate"
	"locationstore.dev/lls/pkg/contenthash"
)

// Consumer adapts DB and a Cluster State into an eventstore.Consumer
// (spec.md §4.8, "adapter objects"): every event is applied to this
// machine's Content Location Database, and its sending machine is marked
// active in Cluster State first, per the Consumer contract.
//
// Applying a consumed event bypasses DB's writeable gate, the same way
// checkpoint restore does: writeability governs the local API's direct
// mutation attempts (spec.md §8's "role exclusivity of writes" property),
// not the downstream application of the already-ordered event stream,
// which every node consumes regardless of its own current role.
type Consumer struct {
	db      *DB
	cluster *clusterstate.State
}

// NewConsumer wires db and cluster into a Consumer.
func NewConsumer(db *DB, cluster *clusterstate.State) *Consumer {
	return &Consumer{db: db, cluster: cluster}
}

// LocationAdded implements eventstore.Consumer.
func (c *Consumer) LocationAdded(machineID uint32, hash contenthash.Hash, size uint64, touch bool, now time.Time) {
	c.cluster.MarkActive(machineID)
	c.db.applyConsumedAdd(hash, size, machineID, now)
}

// LocationRemoved implements eventstore.Consumer.
func (c *Consumer) LocationRemoved(machineID uint32, hash contenthash.Hash) {
	c.cluster.MarkActive(machineID)
	c.db.applyConsumedRemove(hash, machineID)
}

// ContentTouched implements eventstore.Consumer.
func (c *Consumer) ContentTouched(machineID uint32, hash contenthash.Hash, now time.Time) {
	c.cluster.MarkActive(machineID)
	c.db.applyConsumedTouch(hash, now)
}

package lls

import "time"

// Configuration is the recognized configuration surface named in spec.md
// §6, decoded from TOML at startup (see cmd/lls_node).
type Configuration struct {
	// TouchFrequency drives touch dedup and staleness (spec.md §4.1,
	// §4.2).
	TouchFrequency time.Duration `toml:"touch_frequency"`
	// LocationEntryExpiry drives the reconcile freshness window via
	// ×0.75 (spec.md §4.5).
	LocationEntryExpiry time.Duration `toml:"location_entry_expiry"`
	// RecomputeInactiveMachinesExpiry's ×5 defines the "recent
	// inactivity" window (spec.md §4.2 rule 2).
	RecomputeInactiveMachinesExpiry time.Duration `toml:"recompute_inactive_machines_expiry"`
	// SkipRedundantContentLocationAdd enables volatile-set suppression
	// (spec.md §4.2 rules 1 and 3).
	SkipRedundantContentLocationAdd bool `toml:"skip_redundant_content_location_add"`
	// SafeToLazilyUpdateMachineCountThreshold is the replica count at
	// or above which Add is lazy (spec.md §4.2 rule 5).
	SafeToLazilyUpdateMachineCountThreshold int `toml:"safe_to_lazily_update_machine_count_threshold"`

	HeartbeatInterval             time.Duration `toml:"heartbeat_interval"`
	CreateCheckpointInterval      time.Duration `toml:"create_checkpoint_interval"`
	RestoreCheckpointInterval     time.Duration `toml:"restore_checkpoint_interval"`
	RestoreCheckpointAgeThreshold time.Duration `toml:"restore_checkpoint_age_threshold"`

	ReconciliationCycleFrequency time.Duration `toml:"reconciliation_cycle_frequency"`
	ReconciliationMaxCycleSize   int           `toml:"reconciliation_max_cycle_size"`
	EnableReconciliation         bool          `toml:"enable_reconciliation"`
	CheckpointPrefix             string        `toml:"checkpoint_prefix"`
	WorkingDirectory             string        `toml:"working_directory"`

	EnableProactiveReplication      bool          `toml:"enable_proactive_replication"`
	InlineProactiveReplication      bool          `toml:"inline_proactive_replication"`
	ProactiveCopyLocationsThreshold int           `toml:"proactive_copy_locations_threshold"`
	DelayForProactiveReplication    time.Duration `toml:"delay_for_proactive_replication"`
	ProactiveReplicationCopyLimit   int           `toml:"proactive_replication_copy_limit"`

	EvictionPoolSize      int           `toml:"eviction_pool_size"`
	EvictionWindowSize    int           `toml:"eviction_window_size"`
	EvictionRemovalFraction float64     `toml:"eviction_removal_fraction"`
	EvictionDiscardFraction float64     `toml:"eviction_discard_fraction"`
	EvictionMinAge        time.Duration `toml:"eviction_min_age"`
	ContentLifetime       time.Duration `toml:"content_lifetime"`
	MachineRisk           float64       `toml:"machine_risk"`

	// InlinePostInitialization awaits the initial heartbeat during
	// startup rather than backgrounding it (spec.md §5,
	// "Initialization").
	InlinePostInitialization bool `toml:"inline_post_initialization"`

	// ContentEntryTTL bounds Compact's removal of stale, replica-less
	// Content Location Database entries (spec.md §3, entry lifecycle).
	// Not named in spec.md §6's option list, but required to drive the
	// TTL-based compaction that section's data model promises.
	ContentEntryTTL time.Duration `toml:"content_entry_ttl"`
}

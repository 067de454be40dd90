// Command lls_node wires a single Local Location Store instance: it reads
// a TOML configuration, constructs every leaf component, and runs the
// heartbeat loop until asked to shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/buildbarn/bb-storage/pkg/util"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"locationstore.dev/lls/pkg/centralstorage/distributedcache"
	"locationstore.dev/lls/pkg/centralstorage/localdisk"
	"locationstore.dev/lls/pkg/checkpoint"
	"locationstore.dev/lls/pkg/clusterstate"
	"locationstore.dev/lls/pkg/contentdb"
	"locationstore.dev/lls/pkg/eventstore"
	"locationstore.dev/lls/pkg/eventstore/local"
	"locationstore.dev/lls/pkg/globalstore/grpcclient"
	"locationstore.dev/lls/pkg/lls"
	"locationstore.dev/lls/pkg/reputation"
	"locationstore.dev/lls/pkg/timesource"
)

// checkpointBlobCacheCapacity bounds the in-memory front distributedcache
// keeps over locally persisted checkpoint blobs. Not part of the
// recognized configuration surface (spec.md §6); a process-level tuning
// knob only.
const checkpointBlobCacheCapacity = 4

// fileConfig is the top-level shape of the TOML configuration file: the
// LLS core's own recognized options (spec.md §6) plus the small amount of
// process-level wiring the core has no opinion about.
type fileConfig struct {
	MachineID          uint32 `toml:"machine_id"`
	GlobalStoreAddress string `toml:"global_store_address"`

	LLS lls.Configuration `toml:"lls"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 2 {
		return fmt.Errorf("usage: lls_node <config.toml>")
	}

	var cfg fileConfig
	if _, err := toml.DecodeFile(os.Args[1], &cfg); err != nil {
		return util.StatusWrapf(err, "Failed to read configuration from %s", os.Args[1])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(cfg.GlobalStoreAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return util.StatusWrapf(err, "Failed to create Global Store client for %s", cfg.GlobalStoreAddress)
	}
	defer conn.Close()

	if err := os.MkdirAll(cfg.LLS.WorkingDirectory, 0o755); err != nil {
		return util.StatusWrapf(err, "Failed to create working directory %s", cfg.LLS.WorkingDirectory)
	}

	clock := timesource.System
	db := contentdb.New("lls")
	cluster := clusterstate.New(clock)
	consumer := contentdb.NewConsumer(db, cluster)
	events := local.New(consumer, clock)
	global := grpcclient.NewClient(conn)
	central := distributedcache.NewStore(localdisk.NewStore(cfg.LLS.WorkingDirectory), checkpointBlobCacheCapacity)
	checkpoints := checkpoint.New(central, db)
	rep := reputation.New(clock)

	node := lls.New(lls.Dependencies{
		Config:      cfg.LLS,
		Clock:       clock,
		DB:          db,
		Events:      events,
		Cluster:     cluster,
		Global:      global,
		Checkpoints: checkpoints,
		Reputation:  rep,
		MachineID:   cfg.MachineID,
		TempEventStoreFactory: func() eventstore.Store {
			return local.New(consumer, clock)
		},
	})

	if err := node.Start(ctx); err != nil {
		return util.StatusWrap(err, "Failed initial heartbeat")
	}

	go node.RunHeartbeatLoop(ctx, func(err error) {
		fmt.Fprintln(os.Stderr, util.StatusWrap(err, "Heartbeat failed").Error())
	})

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	return node.Shutdown(shutdownCtx)
}

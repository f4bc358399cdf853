// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package vendue assembles the marketplace: the storage backend, the
// operation engine, and the RPC server.
package vendue

import (
	"context"
	"fmt"
	"sync"

	"vendue.org/vendue/mkt"
	"vendue.org/vendue/server/db"
	"vendue.org/vendue/server/db/driver/badgerdb"
	"vendue.org/vendue/server/market"
	"vendue.org/vendue/server/rpc"
)

// Config is the configuration for the marketplace server.
type Config struct {
	// DBPath is the directory of the storage backend.
	DBPath string
	// RentExemptMin is the minimum balance that a partially drained escrow
	// account must retain.
	RentExemptMin uint64
	// RentReserve is the native reserve backing each open trade state.
	RentReserve uint64
	// RPC is the websocket server configuration.
	RPC rpc.RPCConfig
	// LoggerMaker creates the subsystem loggers.
	LoggerMaker *mkt.LoggerMaker
}

// subsystem pairs a shutdown waiter with a name for logging.
type subsystem struct {
	name string
	wg   *sync.WaitGroup
}

// Vendue is the marketplace manager, which creates and controls the lifetime
// of all components of the server.
type Vendue struct {
	store       db.Store
	market      *market.Market
	server      *rpc.Server
	cancel      context.CancelFunc
	stopWaiters []subsystem
}

// NewVendue creates the marketplace manager and starts all subsystems:
//  1. Open the storage backend.
//  2. Create the operation engine.
//  3. Register the RPC routes and start the RPC server.
//
// Use Stop to shut down cleanly.
func NewVendue(cfg *Config) (*Vendue, error) {
	ctx, cancel := context.WithCancel(context.Background())

	store, err := badgerdb.New(&badgerdb.Config{
		Path: cfg.DBPath,
		Log:  cfg.LoggerMaker.SubLogger("DB", "badger"),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening store at %q: %w", cfg.DBPath, err)
	}
	storeWG, err := store.Connect(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("store connect: %w", err)
	}

	core := market.New(&market.Config{
		Store:         store,
		RentExemptMin: cfg.RentExemptMin,
		RentReserve:   cfg.RentReserve,
	})

	rpc.RegisterRoutes(core)
	server, err := rpc.NewServer(&cfg.RPC)
	if err != nil {
		cancel()
		storeWG.Wait()
		return nil, fmt.Errorf("rpc server: %w", err)
	}
	var serverWG sync.WaitGroup
	serverWG.Add(1)
	go func() {
		defer serverWG.Done()
		server.Run(ctx)
	}()

	// Shutdown order is the reverse of the registration order.
	return &Vendue{
		store:  store,
		market: core,
		server: server,
		cancel: cancel,
		stopWaiters: []subsystem{
			{"RPC server", &serverWG},
			{"Store", storeWG},
		},
	}, nil
}

// Market returns the operation engine, for in-process callers.
func (v *Vendue) Market() *market.Market {
	return v.market
}

// Stop shuts down the server. Stop returns only after all components have
// completed their shutdown.
func (v *Vendue) Stop() {
	log.Infof("Stopping subsystems...")
	v.cancel()
	for _, ssw := range v.stopWaiters {
		ssw.wg.Wait()
		log.Infof("%s shutdown.", ssw.name)
	}
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"vendue.org/vendue/server/rpc"
	"vendue.org/vendue/server/vendue"
)

func mainCore(ctx context.Context) error {
	// Parse the configuration file, and set up the loggers.
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Failed to load vendued config: %s\n", err.Error())
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Display app version.
	log.Infof("%s version %v (Go version %s)", appName, Version, runtime.Version())

	srv, err := vendue.NewVendue(&vendue.Config{
		DBPath:        cfg.DataDir,
		RentExemptMin: cfg.RentExemptMin,
		RentReserve:   cfg.RentReserve,
		RPC: rpc.RPCConfig{
			ListenAddrs: cfg.RPCListen,
			RPCCert:     cfg.RPCCert,
			RPCKey:      cfg.RPCKey,
			AltDNSNames: cfg.AltDNSNames,
		},
		LoggerMaker: cfg.LogMaker,
	})
	if err != nil {
		return err
	}

	log.Info("The marketplace server is running. Hit CTRL+C to quit...")
	<-ctx.Done()

	log.Info("Stopping server...")
	srv.Stop()
	log.Info("Bye!")

	return nil
}

func main() {
	// Create a context that is canceled when a shutdown request is received
	// via requestShutdown.
	ctx := withShutdownCancel(context.Background())
	// Listen for both interrupt signals (e.g. CTRL+C) and shutdown requests
	// (requestShutdown calls).
	go shutdownListener()

	err := mainCore(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

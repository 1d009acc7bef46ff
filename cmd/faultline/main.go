package main

import (
	"log"
	"os"

	"github.com/seantiz/faultline/internal/api"
	"github.com/seantiz/faultline/internal/config"
	"github.com/seantiz/faultline/internal/runner"
	"github.com/seantiz/faultline/internal/sim"
	"github.com/seantiz/faultline/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("faultline: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"devices", sim.AutoDevices(),
		"host", sim.HostDescription(),
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	run := runner.New(db, logger, runner.Spec{
		Devices:  cfg.Devices,
		FailRate: cfg.FailRate,
	})
	defer run.Wait()

	srv := api.NewServer(cfg.ListenAddr, db, run, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

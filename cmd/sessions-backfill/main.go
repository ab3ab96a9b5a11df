package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/spray.report/internal/config"
	"github.com/banshee-data/spray.report/internal/db"
	"github.com/banshee-data/spray.report/internal/jobs"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

func main() {
	var dbPath string
	var configPath string
	var rebuild bool
	var products bool

	flag.StringVar(&dbPath, "db", "spray.db", "path to sqlite db")
	flag.StringVar(&configPath, "config", "", "tuning JSON file (built-in defaults when empty)")
	flag.BoolVar(&rebuild, "rebuild", false, "re-derive every session from the stored readings instead of appending new ones")
	flag.BoolVar(&products, "products", true, "refresh the product table afterwards")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, dbPath, configPath, rebuild, products); err != nil {
		log.Printf("backfill failed: %v", err)
		os.Exit(1)
	}
	fmt.Println("backfill complete")
}

func run(ctx context.Context, dbPath, configPath string, rebuild, products bool) error {
	tuning := config.EmptyTuningConfig()
	if configPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(configPath); err != nil {
			return err
		}
	}

	store, err := db.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	controller := jobs.NewController(store, timeutil.RealClock{}, tuning.JobsConfig(), nil)
	if rebuild {
		n, err := controller.Rebuild(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("rebuilt %d sessions\n", n)
	} else {
		n, err := controller.ReconcileSessions(ctx, "backfill")
		if err != nil {
			return err
		}
		fmt.Printf("appended %d sessions\n", n)
	}

	if products {
		ps, err := controller.UpdateProducts(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("derived %d products\n", len(ps))
	}
	return nil
}

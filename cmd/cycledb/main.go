// Command cycledb runs the transactional storage simulator of spec.md:
// recovery first, then (unless --recover) the cycle driver, against a
// tiny fixed-width bit-valued database backed by a write-ahead log.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"cycledb/internal/driver"
	"cycledb/internal/lockmgr"
	"cycledb/internal/page"
	"cycledb/internal/simconfig"
	"cycledb/internal/walog"
)

func main() {
	recoverOnly := flag.Bool("recover", false, "run recovery and exit (spec.md §6)")
	verbose := flag.Bool("v", false, "log per-cycle narration")
	configPath := flag.String("config", "", "optional YAML scenario file, overridden by positional args")
	dataDir := flag.String("data-dir", "data", "directory holding db.txt and log.csv")
	seed := flag.Int64("seed", 1, "random seed for reproducible runs")
	coldArchive := flag.Bool("cold-archive", false, "enable the opt-in zstd cold-tier log re-archival")
	coldEvery := flag.Int("cold-archive-every", 3, "re-archive every Nth log truncation when --cold-archive is set")
	flag.Parse()

	cfg := simconfig.Default()
	if *configPath != "" {
		var err error
		cfg, err = simconfig.LoadFile(cfg, *configPath)
		if err != nil {
			log.Fatalf("cycledb: %v", err)
		}
	}

	cfg, err := overlayPositional(cfg, flag.Args())
	if err != nil {
		log.Fatalf("cycledb: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("cycledb: %v", err)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("cycledb: %v", err)
	}

	pg, err := page.New(filepath.Join(*dataDir, "db.txt"))
	if err != nil {
		log.Fatalf("cycledb: %v", err)
	}

	// The --cold-archive flags, when given, override the cold_archive /
	// cold_archive_every fields of any --config file.
	coldOn, coldN := cfg.ColdArchive, cfg.ColdEvery
	if coldN <= 0 {
		coldN = *coldEvery
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cold-archive":
			coldOn = *coldArchive
		case "cold-archive-every":
			coldN = *coldEvery
		}
	})
	effectiveColdEvery := 0
	if coldOn {
		effectiveColdEvery = coldN
	}
	rm, err := walog.NewRecoveryManager(filepath.Join(*dataDir, "log.csv"), pg, effectiveColdEvery, *verbose)
	if err != nil {
		log.Fatalf("cycledb: %v", err)
	}

	nextTrid, err := rm.Recover()
	if err != nil {
		log.Fatalf("cycledb: %v", err)
	}
	if *verbose {
		log.Printf("cycledb: recovery complete, next_trid=%d", nextTrid)
	}

	if *recoverOnly {
		if err := rm.Close(); err != nil {
			log.Fatalf("cycledb: %v", err)
		}
		pg.Close()
		return
	}

	rng := rand.New(rand.NewSource(*seed))
	lm := lockmgr.New(cfg.RollbackProb, cfg.Timeout, rng)
	d := driver.New(pg, lm, rm, rng, cfg.StartProb, cfg.WriteProb, cfg.TransSize, nextTrid, *verbose)

	if err := d.Run(cfg.Cycles); err != nil {
		log.Fatalf("cycledb: %v", err)
	}

	if err := rm.Close(); err != nil {
		log.Fatalf("cycledb: %v", err)
	}
	lm.Close()

	pg.Close()
	committed, rolledBack, stillActive := d.Summary()
	fmt.Printf("committed=%d rolled_back=%d still-active=%d\n", committed, rolledBack, stillActive)
}

// overlayPositional applies the positional CLI contract of spec.md §6
// (cycles trans_size start_prob write_prob rollback_prob timeout) over
// cfg, taking final precedence over both defaults and any --config
// file. Fewer than six arguments leaves the trailing fields unchanged.
func overlayPositional(cfg simconfig.SimConfig, args []string) (simconfig.SimConfig, error) {
	setters := []func(string) error{
		func(s string) error { v, err := strconv.Atoi(s); cfg.Cycles = v; return err },
		func(s string) error { v, err := strconv.Atoi(s); cfg.TransSize = v; return err },
		func(s string) error { v, err := strconv.ParseFloat(s, 64); cfg.StartProb = v; return err },
		func(s string) error { v, err := strconv.ParseFloat(s, 64); cfg.WriteProb = v; return err },
		func(s string) error { v, err := strconv.ParseFloat(s, 64); cfg.RollbackProb = v; return err },
		func(s string) error { v, err := strconv.Atoi(s); cfg.Timeout = v; return err },
	}
	if len(args) > len(setters) {
		return cfg, fmt.Errorf("too many positional arguments: got %d, want at most %d", len(args), len(setters))
	}
	for i, arg := range args {
		if err := setters[i](arg); err != nil {
			return cfg, fmt.Errorf("invalid positional argument %d (%q): %w", i+1, arg, err)
		}
	}
	return cfg, nil
}

package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/karstlund/prospector/internal/analysis"
	"github.com/karstlund/prospector/internal/audit"
	"github.com/karstlund/prospector/internal/config"
	"github.com/karstlund/prospector/internal/connectors"
	"github.com/karstlund/prospector/internal/connectors/actorhub"
	"github.com/karstlund/prospector/internal/connectors/dryrun"
	"github.com/karstlund/prospector/internal/cost"
	"github.com/karstlund/prospector/internal/credentials"
	"github.com/karstlund/prospector/internal/registry"
	"github.com/karstlund/prospector/internal/scheduler"
	"github.com/karstlund/prospector/internal/store"
)

// dryRunDelay paces simulated runs so watch mode shows the rounds advancing.
const dryRunDelay = 500 * time.Millisecond

// appEnv wires the full stack for one command invocation: config, task type
// catalog, persistence, cost ledger, audit journal, connector and service.
type appEnv struct {
	cfg     *config.Config
	reg     *registry.Registry
	store   *store.Store
	ledger  *cost.Ledger
	journal *audit.Journal
	invoker connectors.Invoker
	svc     *analysis.Service
}

// loadEnv builds the environment from the config file. connectorOverride
// forces a specific connector ("dryrun", "actorhub"); empty means follow the
// config, where "auto" picks actorhub when a token resolves and falls back to
// a dry run otherwise.
func loadEnv(connectorOverride string, schedCfg *scheduler.Config) (*appEnv, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromHome()
	}
	if err != nil {
		return nil, err
	}

	reg := registry.Builtin()
	if cfg.TaskTypeDir != "" {
		if _, statErr := os.Stat(cfg.TaskTypeDir); statErr == nil {
			if err := reg.LoadDir(cfg.TaskTypeDir); err != nil {
				return nil, err
			}
		}
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	strat, err := cost.ParseStrategy(cfg.Strategy)
	if err != nil {
		st.Close()
		return nil, err
	}

	var limit *float64
	if cfg.BudgetLimit > 0 {
		limit = &cfg.BudgetLimit
	}
	ledger, err := cost.NewLedger(reg, cost.Options{
		BudgetLimit:       limit,
		AlertThresholdPct: cfg.AlertThresholdPct,
		Strategy:          strat,
		Store:             st,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	journal, err := audit.Open(cfg.JournalPath)
	if err != nil {
		log.Printf("Env: audit journal unavailable: %v", err)
		journal = nil
	}

	invoker, err := pickConnector(cfg, reg, connectorOverride)
	if err != nil {
		st.Close()
		if journal != nil {
			journal.Close()
		}
		return nil, err
	}

	if schedCfg == nil {
		schedCfg = scheduler.DefaultConfig()
	}
	if schedCfg.MaxConcurrency <= 0 {
		schedCfg.MaxConcurrency = cfg.MaxConcurrency
	}

	svc := analysis.NewService(reg, ledger, invoker, analysis.Options{
		Scheduler: schedCfg,
		Store:     st,
		Journal:   journal,
	})

	return &appEnv{
		cfg:     cfg,
		reg:     reg,
		store:   st,
		ledger:  ledger,
		journal: journal,
		invoker: invoker,
		svc:     svc,
	}, nil
}

func pickConnector(cfg *config.Config, reg *registry.Registry, override string) (connectors.Invoker, error) {
	name := cfg.Connector
	if override != "" {
		name = override
	}

	switch name {
	case "dryrun":
		return dryrun.New(reg, dryRunDelay), nil
	case "actorhub":
		token, err := credentials.Resolve()
		if err != nil {
			return nil, err
		}
		return actorhub.New(cfg.HubBaseURL, token), nil
	case "auto", "":
		token, err := credentials.Resolve()
		if errors.Is(err, credentials.ErrNotFound) {
			log.Printf("Env: no API token, using dry run connector")
			return dryrun.New(reg, dryRunDelay), nil
		}
		if err != nil {
			return nil, err
		}
		return actorhub.New(cfg.HubBaseURL, token), nil
	default:
		return nil, fmt.Errorf("unknown connector %q", name)
	}
}

// Close releases the environment's resources.
func (e *appEnv) Close() {
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			log.Printf("Env: close journal: %v", err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Printf("Env: close store: %v", err)
		}
	}
}

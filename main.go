package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urlsentry/urlsentry/internal/api"
	"github.com/urlsentry/urlsentry/internal/config"
	"github.com/urlsentry/urlsentry/internal/fileutil"
	"github.com/urlsentry/urlsentry/internal/history"
	"github.com/urlsentry/urlsentry/internal/logger"
	"github.com/urlsentry/urlsentry/internal/rules"
	"github.com/urlsentry/urlsentry/internal/scan"
	"github.com/urlsentry/urlsentry/internal/signals"
	"github.com/urlsentry/urlsentry/internal/types"
)

// Version is set at build time via ldflags: -X main.Version=x.y.z
var Version = "1.0.0"

var log = logger.New("main")

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "scan":
			runScan(os.Args[2:])
			return
		case "rules":
			runRules(os.Args[2:])
			return
		case "help", "-h", "--help":
			printUsage()
			return
		case "version", "-v", "--version":
			fmt.Printf("urlsentry %s\n", Version)
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
	}
	printUsage()
}

// loadConfig parses common flags, loads the YAML config, applies overrides
// and validates.
func loadConfig(fs *flag.FlagSet, args []string) *config.Config {
	configPath := fs.String("config", config.DefaultConfigPath(), "Path to configuration file")
	logLevel := fs.String("log-level", "", "Log level: trace, debug, info, warn, error")
	noColor := fs.Bool("no-color", false, "Disable colored log output")
	port := fs.Int("port", 0, "API server port")
	policy := fs.String("policy", "", "Verdict policy: safety-percentage or risk-factor")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = types.LogLevel(*logLevel)
	}
	if *noColor {
		cfg.Server.NoColor = true
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *policy != "" {
		cfg.Scan.Policy = *policy
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}

	logger.SetGlobalLevelFromString(string(cfg.Server.LogLevel))
	logger.SetColored(!cfg.Server.NoColor)
	return cfg
}

// openStore loads the rule store and seeds it when configured.
func openStore(cfg *config.Config) *rules.Store {
	storePath := cfg.RuleStorePath()
	if err := fileutil.SecureMkdirAll(filepath.Dir(storePath)); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing data directory: %v\n", err)
		os.Exit(1)
	}

	store := rules.NewStore(storePath)
	if err := store.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading rules: %v\n", err)
		os.Exit(1)
	}
	if cfg.Rules.SeedDir != "" {
		added, err := store.SeedFromDir(cfg.Rules.SeedDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error seeding rules: %v\n", err)
			os.Exit(1)
		}
		if added > 0 {
			if err := store.Save(); err != nil {
				log.Warn("persisting seeded rules: %v", err)
			}
		}
	}
	return store
}

// buildEngine wires the scan engine from config.
func buildEngine(cfg *config.Config, store *rules.Store, learner *rules.Learner, storage *history.Storage) *scan.Engine {
	ev := rules.NewEvaluator(store, cfg.Rules.EvaluatorBudget)

	var persist scan.PersistFunc
	if storage != nil {
		persist = storage.RecordDecision
	}
	cache := scan.NewCache(time.Duration(cfg.Scan.CacheTTLHours)*time.Hour, persist)

	engine := scan.NewEngine(
		scan.BuiltinProducers(ev),
		scan.NewAggregator(scan.PolicyByName(cfg.Scan.Policy)),
		cache,
		learner,
		scan.EngineConfig{
			ProducerTimeout: time.Duration(cfg.Scan.ProducerTimeout) * time.Second,
			PollAttempts:    cfg.Scan.PollAttempts,
			PollInterval:    time.Duration(cfg.Scan.PollIntervalMs) * time.Millisecond,
		},
	)

	engine.OnRuleEvent(func(event, ruleID, url, reason string) {
		if storage != nil {
			if err := storage.RecordRuleEvent(event, ruleID, url, reason); err != nil {
				log.Warn("recording rule event: %v", err)
			}
		}
		if event == "rule_learned" {
			if err := store.Save(); err != nil {
				log.Warn("persisting learned rule: %v", err)
			}
		}
	})
	return engine
}

func newLearner(cfg *config.Config, store *rules.Store) *rules.Learner {
	if !cfg.Learner.Enabled {
		return nil
	}
	return rules.NewLearner(store, rules.LearnerConfig{
		InitialConfidence: cfg.Learner.InitialConfidence,
		DecayPerDay:       cfg.Learner.DecayPerDay,
		MinConfidence:     cfg.Learner.MinConfidence,
		FalsePositiveStep: cfg.Learner.FalsePositiveStep,
		MinPatterns:       cfg.Learner.MinPatterns,
	})
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	// Environment variables are preferred for secrets (flags show in ps auxww)
	secrets, err := config.LoadSecrets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading secrets: %v\n", err)
		os.Exit(1)
	}
	if err := secrets.ValidateDBKey(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store := openStore(cfg)

	var storage *history.Storage
	if cfg.History.Enabled {
		if err := fileutil.SecureMkdirAll(filepath.Dir(cfg.History.DBPath)); err != nil {
			fmt.Fprintf(os.Stderr, "Error preparing history directory: %v\n", err)
			os.Exit(1)
		}
		storage, err = history.NewStorage(cfg.History.DBPath, secrets.DBKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening history database: %v\n", err)
			os.Exit(1)
		}
		defer storage.Close()
	}

	learner := newLearner(cfg, store)
	engine := buildEngine(cfg, store, learner, storage)

	var watcher *rules.Watcher
	if cfg.Rules.Watch {
		watcher, err = rules.NewWatcher(store)
		if err != nil {
			log.Warn("rule hot reload disabled: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	stopTickers := startMaintenance(cfg, store, storage)
	defer stopTickers()

	server := api.NewServer(engine, store, learner, storage)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	log.Info("urlsentry %s listening on :%d (%d rules, policy %s)",
		Version, cfg.Server.Port, store.Len(), cfg.Scan.Policy)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown: %v", err)
	}
	if err := store.Save(); err != nil {
		log.Warn("final rule store save: %v", err)
	}
}

// startMaintenance launches the decay and retention tickers. The returned
// function stops them.
func startMaintenance(cfg *config.Config, store *rules.Store, storage *history.Storage) func() {
	done := make(chan struct{})

	decayTicker := time.NewTicker(time.Hour)
	go func() {
		for {
			select {
			case <-done:
				return
			case now := <-decayTicker.C:
				if expired := store.DecayPass(now.UTC()); len(expired) > 0 {
					if err := store.Save(); err != nil {
						log.Warn("persisting decay pass: %v", err)
					}
				}
			}
		}
	}()

	retentionTicker := time.NewTicker(12 * time.Hour)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-retentionTicker.C:
				if storage == nil || cfg.History.RetentionDays <= 0 {
					continue
				}
				if _, err := storage.CleanupOldData(cfg.History.RetentionDays); err != nil {
					log.Warn("retention pass: %v", err)
				}
			}
		}
	}()

	return func() {
		decayTicker.Stop()
		retentionTicker.Stop()
		close(done)
	}
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	contextFile := fs.String("context", "", "Path to a JSON evidence context file")
	cfg := loadConfig(fs, args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: urlsentry scan [flags] <url>")
		os.Exit(1)
	}
	rawURL := fs.Arg(0)

	var sctx signals.Context
	if *contextFile != "" {
		data, err := os.ReadFile(*contextFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading context file: %v\n", err)
			os.Exit(1)
		}
		if err := json.Unmarshal(data, &sctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing context file: %v\n", err)
			os.Exit(1)
		}
	}

	store := openStore(cfg)
	engine := buildEngine(cfg, store, newLearner(cfg, store), nil)

	ticket := engine.Submit(rawURL, sctx)
	var decision scan.Decision
	if ticket.Cached {
		decision = *ticket.Decision
	} else {
		decision = engine.Await(context.Background(), ticket.Fingerprint)
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding decision: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if decision.Verdict.IsBlock() {
		os.Exit(2)
	}
}

func runRules(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: urlsentry rules <lint|list> [flags]")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("rules "+sub, flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Output as JSON")
	cfg := loadConfig(fs, args[1:])
	store := openStore(cfg)

	switch sub {
	case "lint":
		problems := store.Validate()
		if *asJSON {
			out, _ := json.MarshalIndent(problems, "", "  ")
			fmt.Println(string(out))
		} else if len(problems) == 0 {
			fmt.Printf("OK: %d rule(s), no problems\n", store.Len())
		} else {
			for _, p := range problems {
				id := p.ID
				if id == "" {
					id = fmt.Sprintf("#%d", p.Index)
				}
				fmt.Printf("  %s: %s\n", id, p.Problem)
			}
			fmt.Printf("%d problem(s) in %d rule(s)\n", len(problems), store.Len())
		}
		if len(problems) > 0 {
			os.Exit(1)
		}
	case "list":
		all := store.All()
		if *asJSON {
			out, _ := json.MarshalIndent(all, "", "  ")
			fmt.Println(string(out))
			return
		}
		now := time.Now().UTC()
		fmt.Printf("%-16s %-8s %-7s %-6s %-11s %s\n", "ID", "SOURCE", "ACTIVE", "IMPACT", "CONFIDENCE", "DESCRIPTION")
		for _, r := range all {
			fmt.Printf("%-16s %-8s %-7t %-6d %-11.2f %s\n",
				r.ID, r.Source, r.Active, r.ScoreImpact,
				rules.EffectiveConfidence(r, now), r.Description)
		}
		fmt.Printf("%d rule(s)\n", len(all))
	default:
		fmt.Fprintf(os.Stderr, "Unknown rules subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`urlsentry - URL threat scoring and decision engine

Usage:
  urlsentry serve [flags]              Start the scan engine and HTTP API
  urlsentry scan [flags] <url>         Scan one URL and print the decision
  urlsentry rules lint [--json]        Validate the rule store
  urlsentry rules list [--json]        List rules with effective confidence
  urlsentry help                       Show this help message
  urlsentry version                    Show version

Flags:
  --config string       Path to configuration file (default ~/.urlsentry/config.yaml)
  --log-level string    Log level: trace, debug, info, warn, error
  --no-color            Disable colored log output
  --port int            API server port (serve)
  --policy string       Verdict policy: safety-percentage or risk-factor
  --context string      JSON evidence context file (scan)

Environment:
  URLSENTRY_DB_KEY            SQLCipher key for the history database (min 16 chars)
  URLSENTRY_PROVIDER_API_KEY  API key for external evidence providers`)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ghostmem/ghostmem/embedder"
	"github.com/ghostmem/ghostmem/embedder/mock"
	"github.com/ghostmem/ghostmem/ghost"
	"github.com/ghostmem/ghostmem/internal/config"
	"github.com/ghostmem/ghostmem/internal/httpapi"
	"github.com/ghostmem/ghostmem/publish"
	"github.com/ghostmem/ghostmem/search"
	"github.com/ghostmem/ghostmem/store"
	"github.com/ghostmem/ghostmem/store/chromem"
	"github.com/ghostmem/ghostmem/store/memstore"
	"github.com/ghostmem/ghostmem/store/sqlite"
)

var configPath string

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ghostmem.toml", "path to the configuration file")

	configCmd.AddCommand(configInitCmd, configListCmd)
	accessCmd.AddCommand(accessCheckCmd)
	rootCmd.AddCommand(serveCmd, configCmd, accessCmd, pruneCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ghostmem",
	Short: "Trust-gated memory sharing service",
}

// app bundles the wired service stack for one CLI invocation.
type app struct {
	cfg         *config.Config
	log         *logrus.Logger
	records     *chromem.Store
	emb         embedder.Embedder
	resolver    *ghost.Resolver
	configs     *ghost.ConfigManager
	escalations *ghost.Tracker
	coordinator *publish.Coordinator
	searcher    *search.Searcher
	closer      func() error
}

func (a *app) Close() error {
	if a.closer != nil {
		return a.closer()
	}
	return nil
}

// newApp reads the config and wires the stack. The caller must defer
// app.Close().
func newApp() (*app, error) {
	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	log.SetLevel(level)

	var (
		docs   docStores
		closer func() error
	)
	switch cfg.Database.Type {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		docs = docStores{configs: db, escalations: db, tokens: db, audit: db}
		closer = db.Close
	case "memory":
		mem := memstore.NewDocs()
		docs = docStores{configs: mem, escalations: mem, tokens: mem, audit: mem}
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Database.Type)
	}

	records := chromem.New(log)
	emb := mock.New()
	contacts := ghost.StaticContacts(cfg.Contacts.Known)
	editors := ghost.StaticEditors(cfg.Groups.Editors)
	moderators := publish.StaticModerators(cfg.Moderators)

	configs, err := ghost.NewConfigManager(docs.configs, contacts, log)
	if err != nil {
		return nil, fmt.Errorf("initializing config manager: %w", err)
	}
	tracker := ghost.NewTracker(docs.escalations, docs.audit, log)
	resolver := ghost.NewResolver(records, configs, tracker, docs.audit, log)
	tokens := publish.NewTokenService(docs.tokens, log)
	coordinator := publish.NewCoordinator(records, records, tokens, docs.audit, editors, moderators, log)
	searcher := search.NewSearcher(records, records, configs, tracker, emb, log)

	return &app{
		cfg:         cfg,
		log:         log,
		records:     records,
		emb:         emb,
		resolver:    resolver,
		configs:     configs,
		escalations: tracker,
		coordinator: coordinator,
		searcher:    searcher,
		closer:      closer,
	}, nil
}

type docStores struct {
	configs     store.ConfigStore
	escalations store.EscalationStore
	tokens      store.TokenStore
	audit       store.AuditLog
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		srv := httpapi.NewServer(a.records, a.emb, a.resolver, a.configs, a.escalations, a.coordinator, a.searcher, a.log)
		a.log.WithField("addr", a.cfg.ListenAddr).Info("starting server")
		return srv.Router().Run(a.cfg.ListenAddr)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath, config.Default()); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", configPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.ReadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		fmt.Printf("Configuration from %s:\n\n", configPath)
		fmt.Printf("Listen Addr: %s\n", cfg.ListenAddr)
		fmt.Printf("Log Level:   %s\n", cfg.LogLevel)
		fmt.Printf("Database:    %s", cfg.Database.Type)
		if cfg.Database.Path != "" {
			fmt.Printf(" (%s)", cfg.Database.Path)
		}
		fmt.Println()
		return nil
	},
}

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Inspect record access",
}

var accessCheckCmd = &cobra.Command{
	Use:   "check <record-id>",
	Short: "Evaluate an access request against a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actorID, _ := cmd.Flags().GetString("actor")
		if actorID == "" {
			return fmt.Errorf("--actor is required")
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.resolver.CheckAccess(context.Background(), args[0], actorID)
		if err != nil {
			return err
		}
		fmt.Println(ghost.FormatAccessResult(res))
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete orphaned shared entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.coordinator.PruneOrphans(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d orphaned shared entries\n", n)
		return nil
	},
}

func init() {
	accessCheckCmd.Flags().String("actor", "", "accessor identity to evaluate")
}

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/treliq/treliq/internal/cache"
	"github.com/treliq/treliq/internal/config"
	"github.com/treliq/treliq/internal/dedup"
	"github.com/treliq/treliq/internal/gate"
	"github.com/treliq/treliq/internal/githost"
	"github.com/treliq/treliq/internal/scan"
	"github.com/treliq/treliq/internal/server"
	"github.com/treliq/treliq/internal/store"
)

func init() {
	rootCmd.AddCommand(newServerCmd())
}

func newServerCmd() *cobra.Command {
	var (
		port          int
		webhookSecret string
		schedule      string
		repos         []string
		dbPath        string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the long-lived webhook and scheduled-scan server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("%w: %v", config.ErrInvalid, err)
			}
			if webhookSecret != "" {
				cfg.GitHub.WebhookSecret = webhookSecret
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var db *store.Store
			if cfg.DBPath != "" {
				db, err = store.Open(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
			}

			factory := serverFactory(cmd.Context(), cfg, db)

			opts := []server.Option{}
			if cfg.GitHub.WebhookSecret != "" {
				opts = append(opts, server.WithWebhookSecret(cfg.GitHub.WebhookSecret))
			}
			if db != nil {
				opts = append(opts, server.WithDB(db))
			}
			if schedule != "" {
				opts = append(opts, server.WithSchedule(schedule, repos))
			}

			srv := server.New(fmt.Sprintf(":%d", port), factory, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "Listen port")
	cmd.Flags().StringVar(&webhookSecret, "webhook-secret", "", "Webhook HMAC secret")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule for repeated scans")
	cmd.Flags().StringSliceVar(&repos, "repos", nil, "Repositories to scan on the schedule")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	return cmd
}

// serverFactory binds a fresh host client to each requested repo while
// sharing the provider, gate, cache layout and database.
func serverFactory(ctx context.Context, cfg *config.Config, db *store.Store) server.OrchestratorFactory {
	return func(repo string) (*scan.Orchestrator, scan.Options, error) {
		owner, name, err := githost.ParseRepo(repo)
		if err != nil {
			return nil, scan.Options{}, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}

		host, err := hostFor(ctx, cfg, owner, name)
		if err != nil {
			return nil, scan.Options{}, err
		}

		g := gate.New(5)
		provider, err := providerFor(ctx, cfg, g)
		if err != nil {
			return nil, scan.Options{}, err
		}

		c := cache.New(cache.DefaultPath(repo))
		c.KeepEmbeddings = cfg.Scan.CacheEmbeddings

		orchOpts := []scan.OrchestratorOption{
			scan.WithGate(g),
			scan.WithCache(c),
		}
		if db != nil {
			orchOpts = append(orchOpts, scan.WithDB(db))
		}
		if cfg.Qdrant.URL != "" {
			vs := dedup.NewQdrantStore(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Qdrant.Collection)
			orchOpts = append(orchOpts, scan.WithVectorStore(vs))
		}

		return scan.New(host, provider, orchOpts...), scan.Options{
			Repo:              repo,
			MaxPRs:            cfg.Scan.MaxPRs,
			TrustContributors: cfg.Scan.TrustContributors,
			ProviderName:      cfg.Provider.Name,
			RelatedThreshold:  cfg.Scan.RelatedThreshold,
			SpamThreshold:     cfg.Scan.SpamThreshold,
			VerifyWithLLM:     provider != nil,
		}, nil
	}
}

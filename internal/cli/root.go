// Package cli wires the cobra command surface over the scan pipeline.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/treliq/treliq/internal/cache"
	"github.com/treliq/treliq/internal/config"
	"github.com/treliq/treliq/internal/dedup"
	"github.com/treliq/treliq/internal/gate"
	"github.com/treliq/treliq/internal/githost"
	"github.com/treliq/treliq/internal/llm"
	"github.com/treliq/treliq/internal/logging"
	"github.com/treliq/treliq/internal/scan"
	"github.com/treliq/treliq/internal/store"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitConfig   = 1
	ExitUpstream = 2
	ExitInternal = 3
)

var (
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "treliq",
		Short: "Ranked, deduplicated, spam-filtered triage for pull request queues",
		Long:  `Treliq scans a repository's open pull requests and issues, scores them with weighted heuristics blended with LLM judgements, clusters near-duplicates, flags spam, and optionally closes, merges, or labels them.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)
	}
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "error:", err)
		return exitCode(err)
	}
	return ExitOK
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalid):
		return ExitConfig
	case errors.Is(err, scan.ErrUpstream):
		return ExitUpstream
	default:
		return ExitInternal
	}
}

// commonFlags are the scan-shaped flags shared by most verbs.
type commonFlags struct {
	repo              string
	token             string
	provider          string
	model             string
	visionPath        string
	format            string
	max               int
	comment           bool
	trustContributors bool
	cachePath         string
	noCache           bool
	dbPath            string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.repo, "repo", "", "Repository as owner/repo (required)")
	cmd.Flags().StringVar(&f.token, "token", "", "GitHub token (defaults to GITHUB_TOKEN)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "LLM provider: openai, gemini, anthropic, openrouter")
	cmd.Flags().StringVar(&f.model, "model", "", "LLM model override")
	cmd.Flags().StringVar(&f.visionPath, "vision", "", "Path to a vision document overriding the repo's own")
	cmd.Flags().StringVar(&f.format, "format", "table", "Output format: table, json, markdown")
	cmd.Flags().IntVar(&f.max, "max", 0, "Maximum PRs to scan")
	cmd.Flags().BoolVar(&f.comment, "comment", false, "Leave comments when closing items")
	cmd.Flags().BoolVar(&f.trustContributors, "trust-contributors", false, "Exempt maintainers from the spam heuristic")
	cmd.Flags().StringVar(&f.cachePath, "cache", "", "Cache file path")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Disable the incremental cache")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite database path")
	cmd.MarkFlagRequired("repo")
}

// runtime bundles everything a verb handler needs.
type runtime struct {
	cfg      *config.Config
	host     *githost.Client
	provider llm.Provider
	orch     *scan.Orchestrator
	db       *store.Store
	opts     scan.Options
}

func (r *runtime) close() {
	if r.db != nil {
		r.db.Close()
	}
}

// buildRuntime merges flags over the loaded config and constructs the
// pipeline collaborators.
func buildRuntime(ctx context.Context, f *commonFlags) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	if f.token != "" {
		cfg.GitHub.Token = f.token
	}
	if f.provider != "" {
		cfg.Provider.Name = f.provider
	}
	if f.model != "" {
		cfg.Provider.Model = f.model
	}
	if f.max > 0 {
		cfg.Scan.MaxPRs = f.max
	}
	if f.trustContributors {
		cfg.Scan.TrustContributors = true
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	owner, name, err := githost.ParseRepo(f.repo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	host, err := hostFor(ctx, cfg, owner, name)
	if err != nil {
		return nil, err
	}

	// The gate bounds LLM-driven stages; a throttled provider halves it and
	// recovered calls grow it back.
	g := gate.New(5)
	provider, err := providerFor(ctx, cfg, g)
	if err != nil {
		return nil, err
	}

	orchOpts := []scan.OrchestratorOption{scan.WithGate(g)}
	if !f.noCache {
		path := f.cachePath
		if path == "" {
			path = cache.DefaultPath(f.repo)
		}
		c := cache.New(path)
		c.KeepEmbeddings = cfg.Scan.CacheEmbeddings
		orchOpts = append(orchOpts, scan.WithCache(c))
	}

	var db *store.Store
	if cfg.DBPath != "" {
		db, err = store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		orchOpts = append(orchOpts, scan.WithDB(db))
	}

	if cfg.Qdrant.URL != "" {
		vs := dedup.NewQdrantStore(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Qdrant.Collection)
		orchOpts = append(orchOpts, scan.WithVectorStore(vs))
	}

	visionDoc, err := readVisionDoc(f.visionPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	return &runtime{
		cfg:      cfg,
		host:     host,
		provider: provider,
		orch:     scan.New(host, provider, orchOpts...),
		db:       db,
		opts: scan.Options{
			Repo:              f.repo,
			MaxPRs:            cfg.Scan.MaxPRs,
			TrustContributors: cfg.Scan.TrustContributors,
			ProviderName:      cfg.Provider.Name,
			VisionDoc:         visionDoc,
			RelatedThreshold:  cfg.Scan.RelatedThreshold,
			SpamThreshold:     cfg.Scan.SpamThreshold,
			VerifyWithLLM:     provider != nil,
		},
	}, nil
}

// hostFor builds the host client in PAT or App mode.
func hostFor(ctx context.Context, cfg *config.Config, owner, name string) (*githost.Client, error) {
	if !cfg.AppMode() {
		return githost.NewClient(owner, name, cfg.GitHub.Token), nil
	}

	creds, err := githost.LoadAppCredentials(
		strconv.FormatInt(cfg.GitHub.AppID, 10),
		cfg.GitHub.PrivateKey, cfg.GitHub.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	installs, err := githost.ListInstallations(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scan.ErrUpstream, err)
	}
	for _, inst := range installs {
		if inst.GetAccount().GetLogin() == owner {
			ts := githost.NewInstallationTokenSource(creds, inst.GetID())
			return githost.NewClientWithTokenSource(owner, name, ts), nil
		}
	}
	return nil, fmt.Errorf("%w: app is not installed on %s", config.ErrInvalid, owner)
}

// providerFor builds the configured LLM provider wrapped with retry. A scan
// without a provider runs heuristic-only. Text-only vendors (anthropic,
// openrouter) get an embedding fallback from whichever embedding-capable key
// is present.
func providerFor(ctx context.Context, cfg *config.Config, g *gate.Gate) (llm.Provider, error) {
	if cfg.Provider.Name == "" {
		return nil, nil
	}

	var fallback llm.Provider
	if cfg.Provider.Name == "anthropic" || cfg.Provider.Name == "openrouter" {
		var err error
		fallback, err = embeddingFallback(ctx)
		if err != nil {
			return nil, err
		}
	}

	inner, err := llm.New(ctx, llm.Config{
		Provider:          cfg.Provider.Name,
		Model:             cfg.Provider.Model,
		APIKey:            cfg.Provider.APIKey,
		EmbeddingFallback: fallback,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	return llm.NewRetryWrapper(inner,
		llm.WithThrottleHook(g.Throttle),
		llm.WithSuccessHook(g.Recover)), nil
}

// embeddingFallback picks an embedding-capable provider for text-only vendors.
func embeddingFallback(ctx context.Context) (llm.Provider, error) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return llm.NewOpenAI(key, "")
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return llm.NewGemini(ctx, key, "")
	}
	return nil, fmt.Errorf("%w: anthropic/openrouter need OPENAI_API_KEY or GEMINI_API_KEY for embeddings", config.ErrInvalid)
}

// readVisionDoc loads a --vision override file when given.
func readVisionDoc(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading vision document: %v", err)
	}
	return string(data), nil
}

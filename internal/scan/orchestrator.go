// Package scan runs the triage pipeline end to end: fetch, cache split,
// reputation, scoring, dedup and vision in parallel, ranking, persistence.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/treliq/treliq/internal/cache"
	"github.com/treliq/treliq/internal/dedup"
	"github.com/treliq/treliq/internal/gate"
	"github.com/treliq/treliq/internal/githost"
	"github.com/treliq/treliq/internal/llm"
	"github.com/treliq/treliq/internal/store"
	"github.com/treliq/treliq/internal/triage"
)

// ErrUpstream marks host API failures so callers can map them to the
// upstream-failure exit code.
var ErrUpstream = errors.New("upstream API failure")

// Options configures a scan run.
type Options struct {
	Repo              string // owner/name
	MaxPRs            int
	TrustContributors bool
	ProviderName      string
	VisionDoc         string  // overrides the repo vision document when set
	RelatedThreshold  float64 // 0 means the engine default
	SpamThreshold     int     // 0 means the scorer default
	VerifyWithLLM     bool
	IncludeIssues     bool
}

// Orchestrator owns one repository's pipeline and its error containment.
// Provider, cache, vector store and database are all optional; each absent
// collaborator degrades the scan rather than failing it.
type Orchestrator struct {
	host     githost.Host
	provider llm.Provider
	cache    *cache.Cache
	db       *store.Store
	vectors  dedup.VectorStore
	gate     *gate.Gate
}

// New creates an orchestrator. Only host is required.
func New(host githost.Host, provider llm.Provider, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		host:     host,
		provider: provider,
		gate:     gate.New(5),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OrchestratorOption wires an optional collaborator.
type OrchestratorOption func(*Orchestrator)

// WithCache enables the incremental cache.
func WithCache(c *cache.Cache) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = c }
}

// WithDB enables scan-history persistence.
func WithDB(db *store.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.db = db }
}

// WithVectorStore enables ANN pairing for large item sets.
func WithVectorStore(vs dedup.VectorStore) OrchestratorOption {
	return func(o *Orchestrator) { o.vectors = vs }
}

// WithGate replaces the default concurrency gate.
func WithGate(g *gate.Gate) OrchestratorOption {
	return func(o *Orchestrator) { o.gate = g }
}

// Scan runs the full pipeline. It returns a Result whenever the PR list was
// fetched; downstream stage failures degrade the result instead of failing it.
func (o *Orchestrator) Scan(ctx context.Context, opts Options) (*Result, error) {
	fingerprint := cache.Fingerprint(opts.TrustContributors, opts.ProviderName)

	var cached *cache.File
	if o.cache != nil {
		cached = o.cache.Load(opts.Repo, fingerprint)
	}

	owners, err := o.host.FetchCodeowners(ctx)
	if err != nil {
		slog.Debug("no CODEOWNERS available", "error", err)
		owners = nil
	}

	refs, err := o.host.ListOpen(ctx, opts.MaxPRs)
	if err != nil {
		return nil, fmt.Errorf("listing open PRs: %w: %w", ErrUpstream, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cachedItems, toFetch := splitByCache(cached, refs)
	if len(cachedItems) > 0 {
		slog.Info("cache hits", "hits", len(cachedItems), "misses", len(toFetch))
	}

	records, err := o.host.FetchDetails(ctx, toFetch)
	if err != nil {
		return nil, fmt.Errorf("fetching PR details: %w: %w", ErrUpstream, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recordPtrs := make([]*githost.PRRecord, len(records))
	for i := range records {
		recordPtrs[i] = &records[i]
		if owners != nil {
			recordPtrs[i].Codeowners = owners.OwnersFor(recordPtrs[i].ChangedFiles)
		}
	}

	scorer := o.newScorer(opts)
	o.populateReputations(ctx, scorer, recordPtrs)

	scored := scorer.ScoreMany(ctx, recordPtrs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := append(cachedItems, scored...)

	var issues []*triage.ScoredItem
	if opts.IncludeIssues {
		issues = o.scanIssues(ctx, scorer, opts.MaxPRs)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	clusters := o.enrich(ctx, items, issues, opts)

	triage.SortRanked(items)
	triage.SortRanked(issues)

	result := &Result{
		ID:                uuid.NewString(),
		Repo:              opts.Repo,
		ScannedAt:         time.Now().UTC(),
		TotalPRs:          len(items),
		SpamCount:         countSpam(items),
		DuplicateClusters: clusters,
		RankedPRs:         items,
		RankedIssues:      issues,
	}
	result.Summary = buildSummary(result)

	o.persist(ctx, result, fingerprint)
	return result, nil
}

// ScanOne runs the scoring sub-pipeline for a single PR. Used by webhooks and
// the score verb; no dedup, cache, or vision.
func (o *Orchestrator) ScanOne(ctx context.Context, opts Options, number int) (*triage.ScoredItem, error) {
	records, err := o.host.FetchDetails(ctx, []int{number})
	if err != nil {
		return nil, fmt.Errorf("fetching PR #%d: %w: %w", number, ErrUpstream, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("PR #%d not found", number)
	}
	record := &records[0]

	if owners, err := o.host.FetchCodeowners(ctx); err == nil && owners != nil {
		record.Codeowners = owners.OwnersFor(record.ChangedFiles)
	}

	scorer := o.newScorer(opts)
	o.populateReputations(ctx, scorer, []*githost.PRRecord{record})

	return scorer.Score(ctx, record)
}

func (o *Orchestrator) newScorer(opts Options) *triage.Scorer {
	scorerOpts := []triage.ScorerOption{
		triage.WithTrustContributors(opts.TrustContributors),
		triage.WithScorerGate(o.gate),
	}
	if opts.SpamThreshold > 0 {
		scorerOpts = append(scorerOpts, triage.WithSpamThreshold(opts.SpamThreshold))
	}
	return triage.NewScorer(o.provider, scorerOpts...)
}

// enrich runs dedup and vision concurrently over the scored set. Either
// stage failing degrades: empty clusters, unchecked alignment.
func (o *Orchestrator) enrich(ctx context.Context, items, issues []*triage.ScoredItem, opts Options) []dedup.Cluster {
	all := make([]*triage.ScoredItem, 0, len(items)+len(issues))
	all = append(all, items...)
	all = append(all, issues...)
	if o.provider == nil || len(all) == 0 {
		return nil
	}

	var clusters []dedup.Cluster
	var eg errgroup.Group

	eg.Go(func() error {
		engineOpts := []dedup.Option{dedup.WithStore(o.vectors)}
		if opts.RelatedThreshold > 0 {
			engineOpts = append(engineOpts, dedup.WithThreshold(opts.RelatedThreshold))
		}
		engine := dedup.NewEngine(o.provider, engineOpts...)
		found, err := engine.FindDuplicates(ctx, all, o.gate, opts.VerifyWithLLM)
		if err != nil {
			slog.Warn("dedup failed, continuing without clusters", "error", err)
			return nil
		}
		clusters = found
		return nil
	})

	eg.Go(func() error {
		doc := opts.VisionDoc
		if doc == "" {
			fetched, err := o.host.FetchVisionDoc(ctx)
			if err != nil {
				slog.Debug("vision doc fetch failed", "error", err)
				return nil
			}
			doc = fetched
		}
		checker := triage.NewVisionChecker(o.provider, doc)
		checker.CheckMany(ctx, all)
		return nil
	})

	_ = eg.Wait()
	return clusters
}

func (o *Orchestrator) scanIssues(ctx context.Context, scorer *triage.Scorer, max int) []*triage.ScoredItem {
	issues, err := o.host.ListIssues(ctx, max)
	if err != nil {
		slog.Warn("issue listing failed, continuing without issues", "error", err)
		return nil
	}
	ptrs := make([]*githost.IssueRecord, len(issues))
	for i := range issues {
		ptrs[i] = &issues[i]
	}
	return scorer.ScoreManyIssues(ctx, ptrs)
}

// populateReputations probes unique authors in parallel and seeds the scorer.
func (o *Orchestrator) populateReputations(ctx context.Context, scorer *triage.Scorer, records []*githost.PRRecord) {
	seen := make(map[string]bool)
	var logins []string
	for _, r := range records {
		if r.Author != "" && !seen[r.Author] {
			seen[r.Author] = true
			logins = append(logins, r.Author)
		}
	}
	if len(logins) == 0 {
		return
	}
	probe := triage.NewReputationProbe(o.host)
	for login, score := range probe.ProbeAll(ctx, logins, o.gate) {
		scorer.SetReputation(login, score)
	}
}

// persist saves the cache and writes the database. Neither failure is fatal.
func (o *Orchestrator) persist(ctx context.Context, result *Result, fingerprint string) {
	if o.cache != nil {
		if err := o.cache.Save(result.Repo, fingerprint, result.RankedPRs); err != nil {
			slog.Warn("cache save failed", "error", err)
		}
	}
	if o.db == nil {
		return
	}

	owner, name, err := githost.ParseRepo(result.Repo)
	if err != nil {
		slog.Warn("db write skipped", "error", err)
		return
	}
	repoID, err := o.db.UpsertRepository(ctx, owner, name)
	if err != nil {
		slog.Warn("db repository upsert failed", "error", err)
		return
	}
	for _, item := range result.RankedPRs {
		if err := o.db.SavePR(ctx, repoID, item, fingerprint); err != nil {
			slog.Warn("db PR upsert failed", "pr", item.Number(), "error", err)
		}
	}
	for _, item := range result.RankedIssues {
		if err := o.db.SaveIssue(ctx, repoID, item); err != nil {
			slog.Warn("db issue upsert failed", "issue", item.Number(), "error", err)
		}
	}
	if err := o.db.AppendScan(ctx, store.ScanRecord{
		RepoID:      repoID,
		ScannedAt:   result.ScannedAt,
		TotalPRs:    result.TotalPRs,
		SpamCount:   result.SpamCount,
		DupClusters: len(result.DuplicateClusters),
		ConfigHash:  fingerprint,
	}); err != nil {
		slog.Warn("db scan record failed", "error", err)
	}
}

// splitByCache separates live refs into cache hits and numbers needing a full
// fetch. Without a usable cache everything needs fetching.
func splitByCache(cached *cache.File, refs []githost.PRRef) ([]*triage.ScoredItem, []int) {
	if cached == nil {
		numbers := make([]int, len(refs))
		for i, ref := range refs {
			numbers[i] = ref.Number
		}
		return nil, numbers
	}

	var hits []*triage.ScoredItem
	var misses []int
	for _, ref := range refs {
		if item, ok := cached.Hit(ref.Number, ref.UpdatedAt, ref.HeadSHA); ok {
			hits = append(hits, item)
		} else {
			misses = append(misses, ref.Number)
		}
	}
	return hits, misses
}

func countSpam(items []*triage.ScoredItem) int {
	n := 0
	for _, item := range items {
		if item.IsSpam {
			n++
		}
	}
	return n
}

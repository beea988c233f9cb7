// Package store persists scan results to an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/treliq/treliq/internal/triage"
)

// Store is the scan-history database. A single connection serialises writes;
// each upsert runs in its own short transaction.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
// path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting database pragmas: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			repo TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_scan DATETIME,
			UNIQUE(owner, repo)
		)`,
		`CREATE TABLE IF NOT EXISTS pull_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			pr_number INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			author_association TEXT NOT NULL DEFAULT '',
			head_sha TEXT NOT NULL DEFAULT '',
			updated_at DATETIME,
			total_score INTEGER NOT NULL DEFAULT 0,
			llm_score INTEGER,
			llm_risk TEXT DEFAULT '',
			llm_reason TEXT DEFAULT '',
			intent TEXT DEFAULT '',
			vision_alignment TEXT DEFAULT 'unchecked',
			is_spam INTEGER NOT NULL DEFAULT 0,
			duplicate_group INTEGER,
			state TEXT NOT NULL DEFAULT 'open',
			config_hash TEXT NOT NULL DEFAULT '',
			stored_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(repo_id, pr_number)
		)`,
		`CREATE TABLE IF NOT EXISTS scoring_signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pr_id INTEGER NOT NULL REFERENCES pull_requests(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			score INTEGER NOT NULL,
			weight REAL NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS scan_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			scanned_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			total_prs INTEGER NOT NULL DEFAULT 0,
			spam_count INTEGER NOT NULL DEFAULT 0,
			dup_clusters INTEGER NOT NULL DEFAULT 0,
			config_hash TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			issue_number INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			total_score INTEGER NOT NULL DEFAULT 0,
			intent TEXT DEFAULT '',
			is_spam INTEGER NOT NULL DEFAULT 0,
			duplicate_group INTEGER,
			state TEXT NOT NULL DEFAULT 'open',
			stored_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(repo_id, issue_number)
		)`,
		`CREATE TABLE IF NOT EXISTS installations (
			id INTEGER PRIMARY KEY,
			account_type TEXT NOT NULL DEFAULT '',
			account_login TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			suspended_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS installation_repos (
			installation_id INTEGER NOT NULL REFERENCES installations(id) ON DELETE CASCADE,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			PRIMARY KEY (installation_id, repo_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prs_repo_number ON pull_requests(repo_id, pr_number)`,
		`CREATE INDEX IF NOT EXISTS idx_prs_state ON pull_requests(state)`,
		`CREATE INDEX IF NOT EXISTS idx_prs_score ON pull_requests(total_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_prs_spam ON pull_requests(is_spam)`,
		`CREATE INDEX IF NOT EXISTS idx_prs_dupgroup ON pull_requests(duplicate_group)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_repo_time ON scan_history(repo_id, scanned_at DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// UpsertRepository returns the id for owner/repo, creating the row when new
// and touching last_scan either way.
func (s *Store) UpsertRepository(ctx context.Context, owner, repo string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (owner, repo, last_scan) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(owner, repo) DO UPDATE SET last_scan = CURRENT_TIMESTAMP`,
		owner, repo)
	if err != nil {
		return 0, fmt.Errorf("upserting repository %s/%s: %w", owner, repo, err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM repositories WHERE owner = ? AND repo = ?`, owner, repo).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading repository id: %w", err)
	}
	return id, nil
}

// SavePR upserts one scored PR and its signals inside a single transaction.
func (s *Store) SavePR(ctx context.Context, repoID int64, item *triage.ScoredItem, configHash string) error {
	if item.PR == nil {
		return fmt.Errorf("item #%d is not a pull request", item.Number())
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	pr := item.PR
	var llmScore sql.NullInt64
	if item.LLMScore != nil {
		llmScore = sql.NullInt64{Int64: int64(*item.LLMScore), Valid: true}
	}
	var dupGroup sql.NullInt64
	if item.DuplicateGroup != nil {
		dupGroup = sql.NullInt64{Int64: int64(*item.DuplicateGroup), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pull_requests (
			repo_id, pr_number, title, author, author_association, head_sha,
			updated_at, total_score, llm_score, llm_risk, llm_reason, intent,
			vision_alignment, is_spam, duplicate_group, state, config_hash, stored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', ?, CURRENT_TIMESTAMP)
		ON CONFLICT(repo_id, pr_number) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			author_association = excluded.author_association,
			head_sha = excluded.head_sha,
			updated_at = excluded.updated_at,
			total_score = excluded.total_score,
			llm_score = excluded.llm_score,
			llm_risk = excluded.llm_risk,
			llm_reason = excluded.llm_reason,
			intent = excluded.intent,
			vision_alignment = excluded.vision_alignment,
			is_spam = excluded.is_spam,
			duplicate_group = excluded.duplicate_group,
			config_hash = excluded.config_hash,
			stored_at = CURRENT_TIMESTAMP`,
		repoID, pr.Number, pr.Title, pr.Author, string(pr.AuthorAssociation), pr.HeadSHA,
		pr.UpdatedAt, item.TotalScore, llmScore, string(item.LLMRisk), item.LLMReason,
		string(item.Intent), string(item.VisionAlignment), item.IsSpam, dupGroup, configHash)
	if err != nil {
		return fmt.Errorf("upserting PR #%d: %w", pr.Number, err)
	}

	var prID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM pull_requests WHERE repo_id = ? AND pr_number = ?`,
		repoID, pr.Number).Scan(&prID)
	if err != nil {
		return fmt.Errorf("reading PR row id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scoring_signals WHERE pr_id = ?`, prID); err != nil {
		return fmt.Errorf("clearing stale signals: %w", err)
	}
	for _, sig := range item.Signals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scoring_signals (pr_id, name, score, weight, reason)
			VALUES (?, ?, ?, ?, ?)`,
			prID, sig.Name, sig.Score, sig.Weight, sig.Reason)
		if err != nil {
			return fmt.Errorf("inserting signal %s: %w", sig.Name, err)
		}
	}

	return tx.Commit()
}

// MarkPRState updates the stored state (open, closed, merged) of a PR.
func (s *Store) MarkPRState(ctx context.Context, repoID int64, number int, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET state = ? WHERE repo_id = ? AND pr_number = ?`,
		state, repoID, number)
	if err != nil {
		return fmt.Errorf("marking PR #%d %s: %w", number, state, err)
	}
	return nil
}

// SaveIssue upserts one scored issue.
func (s *Store) SaveIssue(ctx context.Context, repoID int64, item *triage.ScoredItem) error {
	if item.Issue == nil {
		return fmt.Errorf("item #%d is not an issue", item.Number())
	}
	var dupGroup sql.NullInt64
	if item.DuplicateGroup != nil {
		dupGroup = sql.NullInt64{Int64: int64(*item.DuplicateGroup), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (repo_id, issue_number, title, author, total_score, intent, is_spam, duplicate_group, state, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(repo_id, issue_number) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			total_score = excluded.total_score,
			intent = excluded.intent,
			is_spam = excluded.is_spam,
			duplicate_group = excluded.duplicate_group,
			state = excluded.state,
			stored_at = CURRENT_TIMESTAMP`,
		repoID, item.Issue.Number, item.Issue.Title, item.Issue.Author,
		item.TotalScore, string(item.Intent), item.IsSpam, dupGroup, string(item.Issue.State))
	if err != nil {
		return fmt.Errorf("upserting issue #%d: %w", item.Issue.Number, err)
	}
	return nil
}

// ScanRecord is one appended scan-history row.
type ScanRecord struct {
	RepoID      int64
	ScannedAt   time.Time
	TotalPRs    int
	SpamCount   int
	DupClusters int
	ConfigHash  string
}

// AppendScan records a completed scan.
func (s *Store) AppendScan(ctx context.Context, rec ScanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_history (repo_id, scanned_at, total_prs, spam_count, dup_clusters, config_hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RepoID, rec.ScannedAt, rec.TotalPRs, rec.SpamCount, rec.DupClusters, rec.ConfigHash)
	if err != nil {
		return fmt.Errorf("appending scan record: %w", err)
	}
	return nil
}

// ScanSummary is one historical scan as returned to API consumers.
type ScanSummary struct {
	ID          int64     `json:"id"`
	Repo        string    `json:"repo"`
	ScannedAt   time.Time `json:"scannedAt"`
	TotalPRs    int       `json:"totalPRs"`
	SpamCount   int       `json:"spamCount"`
	DupClusters int       `json:"dupClusters"`
}

// RecentScans returns the most recent scans for owner/repo, newest first.
func (s *Store) RecentScans(ctx context.Context, owner, repo string, limit int) ([]ScanSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, r.owner || '/' || r.repo, h.scanned_at, h.total_prs, h.spam_count, h.dup_clusters
		FROM scan_history h JOIN repositories r ON r.id = h.repo_id
		WHERE r.owner = ? AND r.repo = ?
		ORDER BY h.scanned_at DESC LIMIT ?`, owner, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("querying scan history: %w", err)
	}
	defer rows.Close()

	var out []ScanSummary
	for rows.Next() {
		var sc ScanSummary
		if err := rows.Scan(&sc.ID, &sc.Repo, &sc.ScannedAt, &sc.TotalPRs, &sc.SpamCount, &sc.DupClusters); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// StoredPR is a ranked PR row as returned to API consumers.
type StoredPR struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	TotalScore int    `json:"totalScore"`
	Intent     string `json:"intent,omitempty"`
	IsSpam     bool   `json:"isSpam"`
	State      string `json:"state"`
}

// TopPRs returns open PRs for owner/repo ranked by score.
func (s *Store) TopPRs(ctx context.Context, owner, repo string, limit int) ([]StoredPR, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.pr_number, p.title, p.author, p.total_score, p.intent, p.is_spam, p.state
		FROM pull_requests p JOIN repositories r ON r.id = p.repo_id
		WHERE r.owner = ? AND r.repo = ? AND p.state = 'open'
		ORDER BY p.total_score DESC, p.pr_number ASC LIMIT ?`, owner, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ranked PRs: %w", err)
	}
	defer rows.Close()

	var out []StoredPR
	for rows.Next() {
		var p StoredPR
		if err := rows.Scan(&p.Number, &p.Title, &p.Author, &p.TotalScore, &p.Intent, &p.IsSpam, &p.State); err != nil {
			return nil, fmt.Errorf("scanning PR row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertInstallation records a GitHub App installation.
func (s *Store) UpsertInstallation(ctx context.Context, id int64, accountType, accountLogin string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installations (id, account_type, account_login, suspended_at)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			account_type = excluded.account_type,
			account_login = excluded.account_login,
			suspended_at = NULL`,
		id, accountType, accountLogin)
	if err != nil {
		return fmt.Errorf("upserting installation %d: %w", id, err)
	}
	return nil
}

// DeleteInstallation removes an installation and its repo links.
func (s *Store) DeleteInstallation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM installations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting installation %d: %w", id, err)
	}
	return nil
}

// SetInstallationSuspended toggles the suspension timestamp.
func (s *Store) SetInstallationSuspended(ctx context.Context, id int64, suspended bool) error {
	var err error
	if suspended {
		_, err = s.db.ExecContext(ctx,
			`UPDATE installations SET suspended_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE installations SET suspended_at = NULL WHERE id = ?`, id)
	}
	if err != nil {
		return fmt.Errorf("updating installation %d suspension: %w", id, err)
	}
	return nil
}

// LinkInstallationRepo associates an installation with a repository.
func (s *Store) LinkInstallationRepo(ctx context.Context, installationID, repoID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO installation_repos (installation_id, repo_id) VALUES (?, ?)`,
		installationID, repoID)
	if err != nil {
		return fmt.Errorf("linking installation %d to repo %d: %w", installationID, repoID, err)
	}
	return nil
}

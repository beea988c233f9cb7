// Package cache persists scan results per repository so unchanged PRs skip
// re-fetching and re-scoring on the next run.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/treliq/treliq/internal/triage"
)

// defaultLockTimeout bounds how long a load or save waits for the file lock.
const defaultLockTimeout = 5 * time.Second

// Fingerprint returns the first 8 hex chars of the MD5 of the canonical
// serialization of the config inputs that invalidate cached scores.
func Fingerprint(trustContributors bool, providerName string) string {
	canonical := fmt.Sprintf(`{"providerName":%q,"trustContributors":%t}`, providerName, trustContributors)
	sum := md5.Sum([]byte(canonical))
	return fmt.Sprintf("%x", sum)[:8]
}

// Entry is one cached scored PR keyed by number.
type Entry struct {
	UpdatedAt time.Time          `json:"updatedAt"`
	HeadSHA   string             `json:"headSha"`
	Item      *triage.ScoredItem `json:"scoredPR"`
}

// File is the on-disk cache for one repository.
type File struct {
	Repo              string        `json:"repo"`
	LastScan          time.Time     `json:"lastScan"`
	ConfigFingerprint string        `json:"configHash,omitempty"`
	PRs               map[int]Entry `json:"prs"`
}

// Cache loads and saves per-repo scan caches. Writes are atomic and guarded
// by a file lock shared with concurrent processes.
type Cache struct {
	path string

	// KeepEmbeddings preserves item embeddings on save. Off by default; they
	// dominate the file size and re-embedding cache misses is cheap.
	KeepEmbeddings bool
}

// New creates a cache backed by path.
func New(path string) *Cache {
	return &Cache{path: path}
}

// DefaultPath returns the conventional cache location for a repo.
func DefaultPath(repo string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	safe := filepath.Join(dir, "treliq")
	name := fmt.Sprintf("%s.json", sanitize(repo))
	return filepath.Join(safe, name)
}

func sanitize(repo string) string {
	out := make([]byte, 0, len(repo))
	for i := 0; i < len(repo); i++ {
		c := repo[i]
		if c == '/' {
			c = '-'
		}
		out = append(out, c)
	}
	return string(out)
}

// Load returns the cached file, or nil when the file is missing, unreadable,
// belongs to another repo, or was written under a different fingerprint.
// A nil return is never an error condition for the caller.
func (c *Cache) Load(repo, fingerprint string) *File {
	var data []byte
	err := withReadLock(c.path, func() error {
		var readErr error
		data, readErr = os.ReadFile(c.path)
		return readErr
	})
	if err != nil {
		return nil
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Debug("cache file is invalid, ignoring", "path", c.path, "error", err)
		return nil
	}
	if f.Repo != repo {
		return nil
	}
	if f.ConfigFingerprint != "" && fingerprint != "" && f.ConfigFingerprint != fingerprint {
		slog.Debug("cache fingerprint mismatch, ignoring",
			"cached", f.ConfigFingerprint, "current", fingerprint)
		return nil
	}
	if f.PRs == nil {
		f.PRs = make(map[int]Entry)
	}
	return &f
}

// Hit reports whether the cached entry for number still matches the live
// lightweight ref exactly.
func (f *File) Hit(number int, updatedAt time.Time, headSHA string) (*triage.ScoredItem, bool) {
	entry, ok := f.PRs[number]
	if !ok || entry.Item == nil {
		return nil, false
	}
	if !entry.UpdatedAt.Equal(updatedAt) || entry.HeadSHA != headSHA {
		return nil, false
	}
	return entry.Item, true
}

// Save writes the scored items for repo atomically, replacing any previous
// cache for it.
func (c *Cache) Save(repo, fingerprint string, items []*triage.ScoredItem) error {
	f := File{
		Repo:              repo,
		LastScan:          time.Now().UTC(),
		ConfigFingerprint: fingerprint,
		PRs:               make(map[int]Entry, len(items)),
	}
	for _, item := range items {
		if item.PR == nil {
			continue
		}
		stored := item
		if !c.KeepEmbeddings && len(item.Embedding) > 0 {
			clone := *item
			clone.Embedding = nil
			stored = &clone
		}
		f.PRs[item.PR.Number] = Entry{
			UpdatedAt: item.PR.UpdatedAt,
			HeadSHA:   item.PR.HeadSHA,
			Item:      stored,
		}
	}

	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	return withLock(c.path, func() error {
		return atomicWrite(c.path, data)
	})
}

// atomicWrite writes via a temp file in the same directory and renames over
// the target.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

func withLock(path string, fn func() error) error {
	fileLock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), defaultLockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring lock on %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("timed out acquiring lock on %s", path)
	}
	defer fileLock.Unlock()
	return fn()
}

func withReadLock(path string, fn func() error) error {
	fileLock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), defaultLockTimeout)
	defer cancel()

	locked, err := fileLock.TryRLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring read lock on %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("timed out acquiring read lock on %s", path)
	}
	defer fileLock.Unlock()
	return fn()
}

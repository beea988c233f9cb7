package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// webhookMaxBody caps webhook payloads at 5 MiB.
const webhookMaxBody = 5 << 20

// VerifySignature checks an x-hub-signature-256 header against the raw body
// using constant-time comparison.
func VerifySignature(secret, body []byte, header string) bool {
	if len(secret) == 0 || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

// webhookPayload is the subset of GitHub webhook fields the server consumes.
type webhookPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation struct {
		ID      int64 `json:"id"`
		Account struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		} `json:"account"`
	} `json:"installation"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !VerifySignature(s.webhookSecret, body, r.Header.Get("x-hub-signature-256")) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Invalid signature"))
		return
	}

	event := r.Header.Get("x-github-event")
	delivery := r.Header.Get("x-github-delivery")
	slog.Info("webhook received", "event", event, "delivery", delivery)

	switch event {
	case "ping":
		w.Write([]byte("pong"))
	case "pull_request":
		s.handlePullRequestEvent(w, body)
	case "installation":
		s.handleInstallationEvent(w, body)
	default:
		w.Write([]byte("ignored"))
	}
}

func (s *Server) handlePullRequestEvent(w http.ResponseWriter, body []byte) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	repo := payload.Repository.FullName
	number := payload.PullRequest.Number

	switch payload.Action {
	case "opened", "synchronize", "reopened":
		// Score asynchronously; the webhook response must not wait on the pipeline.
		go s.scorePR(repo, number)
		w.Write([]byte("accepted"))
	case "closed":
		go s.markPRClosed(repo, number)
		w.Write([]byte("accepted"))
	default:
		w.Write([]byte("ignored"))
	}
}

func (s *Server) scorePR(repo string, number int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	orch, opts, err := s.orchestratorFor(repo)
	if err != nil {
		slog.Error("webhook scoring setup failed", "repo", repo, "error", err)
		return
	}
	item, err := orch.ScanOne(ctx, opts, number)
	if err != nil {
		slog.Error("webhook scoring failed", "repo", repo, "pr", number, "error", err)
		return
	}

	if s.db != nil {
		if owner, name, err := splitRepo(repo); err == nil {
			if repoID, err := s.db.UpsertRepository(ctx, owner, name); err == nil {
				if err := s.db.SavePR(ctx, repoID, item, ""); err != nil {
					slog.Warn("webhook db write failed", "pr", number, "error", err)
				}
			}
		}
	}

	s.broadcaster.Publish(Event{
		Type: "pr_scored",
		Payload: map[string]any{
			"repo":   repo,
			"number": number,
			"score":  item.TotalScore,
			"isSpam": item.IsSpam,
		},
	})
}

func (s *Server) markPRClosed(repo string, number int) {
	if s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	owner, name, err := splitRepo(repo)
	if err != nil {
		return
	}
	repoID, err := s.db.UpsertRepository(ctx, owner, name)
	if err != nil {
		slog.Warn("repo upsert on close failed", "repo", repo, "error", err)
		return
	}
	if err := s.db.MarkPRState(ctx, repoID, number, "closed"); err != nil {
		slog.Warn("marking PR closed failed", "pr", number, "error", err)
	}
}

func (s *Server) handleInstallationEvent(w http.ResponseWriter, body []byte) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if s.db == nil {
		w.Write([]byte("ignored"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id := payload.Installation.ID
	var err error
	switch payload.Action {
	case "created":
		err = s.db.UpsertInstallation(ctx, id,
			payload.Installation.Account.Type, payload.Installation.Account.Login)
	case "deleted":
		err = s.db.DeleteInstallation(ctx, id)
	case "suspend":
		err = s.db.SetInstallationSuspended(ctx, id, true)
	case "unsuspend":
		err = s.db.SetInstallationSuspended(ctx, id, false)
	default:
		w.Write([]byte("ignored"))
		return
	}
	if err != nil {
		slog.Error("installation event failed", "action", payload.Action, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "installation update failed")
		return
	}
	w.Write([]byte("ok"))
}

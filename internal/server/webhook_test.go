package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treliq/treliq/internal/githost"
	"github.com/treliq/treliq/internal/scan"
	"github.com/treliq/treliq/internal/store"
)

const testSecret = "hunter2"

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func noopFactory(string) (*scan.Orchestrator, scan.Options, error) {
	return nil, scan.Options{}, errors.New("not configured")
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithWebhookSecret(testSecret)}, opts...)
	return New(":0", noopFactory, opts...)
}

func postWebhook(s *Server, event, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	req.Header.Set("x-github-event", event)
	req.Header.Set("x-hub-signature-256", signature)
	rec := httptest.NewRecorder()
	s.handleWebhook(rec, req)
	return rec
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"zen":"Keep it logically awesome."}`)
	valid := sign(testSecret, string(body))

	assert.True(t, VerifySignature([]byte(testSecret), body, valid))
	assert.False(t, VerifySignature([]byte("wrong"), body, valid))
	assert.False(t, VerifySignature([]byte(testSecret), []byte("tampered"), valid))
	assert.False(t, VerifySignature([]byte(testSecret), body, strings.TrimPrefix(valid, "sha256=")))
	assert.False(t, VerifySignature([]byte(testSecret), body, "sha256=nothex"))
	assert.False(t, VerifySignature(nil, body, valid), "empty secret never verifies")
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	s := newTestServer(t)
	rec := postWebhook(s, "ping", "{}", "sha256="+strings.Repeat("00", 32))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid signature", rec.Body.String())
}

func TestHandleWebhook_Ping(t *testing.T) {
	s := newTestServer(t)
	body := `{"zen":"Design for failure."}`
	rec := postWebhook(s, "ping", body, sign(testSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestHandleWebhook_UnknownEventIgnored(t *testing.T) {
	s := newTestServer(t)
	rec := postWebhook(s, "star", "{}", sign(testSecret, "{}"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", rec.Body.String())
}

func TestHandleWebhook_PullRequestActions(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{"opened", "accepted"},
		{"synchronize", "accepted"},
		{"reopened", "accepted"},
		{"closed", "accepted"},
		{"labeled", "ignored"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			s := newTestServer(t)
			body := `{"action":"` + tt.action + `","pull_request":{"number":7},"repository":{"full_name":"acme/widgets"}}`
			rec := postWebhook(s, "pull_request", body, sign(testSecret, body))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestHandleWebhook_OpenedScoresAndBroadcasts(t *testing.T) {
	host := githost.NewMockHost()
	host.AddPR(githost.PRRecord{
		Number:    7,
		Title:     "fix: null deref in parser",
		Body:      "Adds a nil check before dereferencing the node and a regression test.",
		UpdatedAt: time.Now().UTC(),
		HeadSHA:   "abc123",
		Additions: 40,
		HasTests:  true,
		CIStatus:  githost.CISuccess,
		Mergeable: githost.MergeableClean,
	})

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	factory := func(repo string) (*scan.Orchestrator, scan.Options, error) {
		return scan.New(host, nil), scan.Options{Repo: repo}, nil
	}
	s := New(":0", factory, WithWebhookSecret(testSecret), WithDB(db))

	events := s.Broadcaster().Subscribe()
	defer s.Broadcaster().Unsubscribe(events)

	body := `{"action":"opened","pull_request":{"number":7},"repository":{"full_name":"acme/widgets"}}`
	rec := postWebhook(s, "pull_request", body, sign(testSecret, body))
	require.Equal(t, "accepted", rec.Body.String())

	var ev Event
	select {
	case ev = <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no pr_scored event")
	}
	assert.Equal(t, "pr_scored", ev.Type)
	payload := ev.Payload.(map[string]any)
	assert.Equal(t, 7, payload["number"])

	prs, err := db.TopPRs(context.Background(), "acme", "widgets", 10)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, 7, prs[0].Number)
}

func TestHandleWebhook_PullRequestBadPayload(t *testing.T) {
	s := newTestServer(t)
	body := `{"action": not json`
	rec := postWebhook(s, "pull_request", body, sign(testSecret, body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_InstallationLifecycle(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	s := newTestServer(t, WithDB(db))

	created := `{"action":"created","installation":{"id":42,"account":{"login":"acme","type":"Organization"}}}`
	rec := postWebhook(s, "installation", created, sign(testSecret, created))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	suspend := `{"action":"suspend","installation":{"id":42}}`
	rec = postWebhook(s, "installation", suspend, sign(testSecret, suspend))
	assert.Equal(t, "ok", rec.Body.String())

	deleted := `{"action":"deleted","installation":{"id":42}}`
	rec = postWebhook(s, "installation", deleted, sign(testSecret, deleted))
	assert.Equal(t, "ok", rec.Body.String())

	other := `{"action":"new_permissions_accepted","installation":{"id":42}}`
	rec = postWebhook(s, "installation", other, sign(testSecret, other))
	assert.Equal(t, "ignored", rec.Body.String())
}

func TestHandleWebhook_InstallationWithoutDB(t *testing.T) {
	s := newTestServer(t)
	body := `{"action":"created","installation":{"id":1}}`
	rec := postWebhook(s, "installation", body, sign(testSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", rec.Body.String())
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)

	for _, bad := range []string{"", "acme", "/widgets", "acme/"} {
		_, _, err := splitRepo(bad)
		assert.Error(t, err, bad)
	}
}

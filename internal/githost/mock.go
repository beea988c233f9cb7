package githost

import (
	"context"
	"fmt"
	"sync"
)

// ActionCall records one mutating call made against the mock host.
type ActionCall struct {
	Kind    string // close_pr | close_issue | merge | label | comment
	Number  int
	Comment string
	Method  string
	Labels  []string
}

// MockHost is a test double for Host.
type MockHost struct {
	mu sync.Mutex

	Refs       []PRRef
	Records    map[int]PRRecord
	Issues     []IssueRecord
	Owners     *CodeownersFile
	VisionDoc  string
	Diffs      map[int]string
	Users      map[string]*UserProfile
	LiveStates map[int]string // default "open"

	ListErr    error
	DetailsErr error
	LiveErr    error
	ActionErr  error

	Actions      []ActionCall
	DetailCalls  [][]int
	ListCalls    int
	UserCalls    []string
	LiveCalls    []int
}

// NewMockHost creates an empty mock host.
func NewMockHost() *MockHost {
	return &MockHost{
		Records:    make(map[int]PRRecord),
		Diffs:      make(map[int]string),
		Users:      make(map[string]*UserProfile),
		LiveStates: make(map[int]string),
	}
}

// AddPR registers a record and its lightweight ref.
func (m *MockHost) AddPR(r PRRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records[r.Number] = r
	m.Refs = append(m.Refs, PRRef{Number: r.Number, UpdatedAt: r.UpdatedAt, HeadSHA: r.HeadSHA})
}

func (m *MockHost) ListOpen(_ context.Context, max int) ([]PRRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	refs := m.Refs
	if max > 0 && len(refs) > max {
		refs = refs[:max]
	}
	return append([]PRRef(nil), refs...), nil
}

func (m *MockHost) FetchDetails(_ context.Context, numbers []int) ([]PRRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DetailCalls = append(m.DetailCalls, append([]int(nil), numbers...))
	if m.DetailsErr != nil {
		return nil, m.DetailsErr
	}
	var out []PRRecord
	for _, n := range numbers {
		if r, ok := m.Records[n]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockHost) FetchCodeowners(_ context.Context) (*CodeownersFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Owners == nil {
		return nil, fmt.Errorf("no CODEOWNERS")
	}
	return m.Owners, nil
}

func (m *MockHost) FetchVisionDoc(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.VisionDoc, nil
}

func (m *MockHost) ListIssues(_ context.Context, max int) ([]IssueRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issues := m.Issues
	if max > 0 && len(issues) > max {
		issues = issues[:max]
	}
	return append([]IssueRecord(nil), issues...), nil
}

func (m *MockHost) FetchDiff(_ context.Context, number int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Diffs[number], nil
}

func (m *MockHost) LiveState(_ context.Context, number int, _ bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LiveCalls = append(m.LiveCalls, number)
	if m.LiveErr != nil {
		return "", m.LiveErr
	}
	if state, ok := m.LiveStates[number]; ok {
		return state, nil
	}
	return "open", nil
}

func (m *MockHost) ClosePR(_ context.Context, number int, comment string) error {
	return m.record(ActionCall{Kind: "close_pr", Number: number, Comment: comment})
}

func (m *MockHost) CloseIssue(_ context.Context, number int, comment string) error {
	return m.record(ActionCall{Kind: "close_issue", Number: number, Comment: comment})
}

func (m *MockHost) MergePR(_ context.Context, number int, method string) error {
	return m.record(ActionCall{Kind: "merge", Number: number, Method: method})
}

func (m *MockHost) AddLabels(_ context.Context, number int, labels []string) error {
	return m.record(ActionCall{Kind: "label", Number: number, Labels: labels})
}

func (m *MockHost) FetchUser(_ context.Context, login string) (*UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UserCalls = append(m.UserCalls, login)
	if u, ok := m.Users[login]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s not found", login)
}

func (m *MockHost) record(call ActionCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ActionErr != nil {
		return m.ActionErr
	}
	m.Actions = append(m.Actions, call)
	return nil
}

var _ Host = (*MockHost)(nil)

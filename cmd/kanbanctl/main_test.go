package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/pflag"

	"kanban-api/api"
	"kanban-api/domain"
	"kanban-api/storage"
)

var secret = []byte("kanbanctl-test-secret")

func newServer(t *testing.T) string {
	t.Helper()
	backend := storage.NewMemory()
	logger, _ := test.NewNullLogger()
	e := api.NewEcho(api.ServerConfig{Registry: prometheus.NewRegistry()})
	api.Register(e, api.Deps{
		Auth:       api.NewAuth(api.AuthConfig{SharedSecret: secret}),
		Privileged: storage.NewClient(backend, storage.ServiceCredential()),
		Scoped: func(id domain.Identity) api.BoardStore {
			return storage.NewClient(backend, storage.CallerCredential(id))
		},
		Log: logger,
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv.URL
}

func token(t *testing.T, user string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

type runner struct {
	t     *testing.T
	url   string
	token string
}

func (r runner) run(args ...string) (string, error) {
	r.t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--api-url", r.url, "--token", r.token, "--config", ""))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (r runner) mustRun(args ...string) string {
	r.t.Helper()
	out, err := r.run(args...)
	if err != nil {
		r.t.Fatalf("kanbanctl %s: %v", strings.Join(args, " "), err)
	}
	return out
}

// idAfter returns the word following prefix in out.
func idAfter(t *testing.T, out, prefix string) string {
	t.Helper()
	i := strings.Index(out, prefix)
	if i < 0 {
		t.Fatalf("%q not found in %q", prefix, out)
	}
	fields := strings.Fields(out[i+len(prefix):])
	if len(fields) == 0 {
		t.Fatalf("no id after %q in %q", prefix, out)
	}
	return fields[0]
}

func TestBoardWorkflow(t *testing.T) {
	r := runner{t: t, url: newServer(t), token: token(t, "u1")}

	boardID := idAfter(t, r.mustRun("create-board", "Sprint 1", "--color", "bg-red-500"), "created board ")
	todo := idAfter(t, r.mustRun("add-column", boardID, "To Do"), "created column ")
	done := idAfter(t, r.mustRun("add-column", boardID, "Done"), "created column ")

	out := r.mustRun("add-task", boardID, todo, "Write docs", "--priority", "HIGH", "--assignee", "alice", "--due", "2024-06-01")
	if !strings.Contains(out, "high @alice due 2024-06-01") {
		t.Fatalf("unexpected task output %q", out)
	}
	taskID := idAfter(t, out, "[")
	taskID = strings.TrimSuffix(taskID, "]")
	r.mustRun("add-task", boardID, todo, "Review")

	r.mustRun("move-task", boardID, taskID, done)
	r.mustRun("rename-column", boardID, done, "Shipped")
	r.mustRun("rename-board", boardID, "Sprint 2")
	if out := r.mustRun("edit-task", boardID, taskID, "--due", ""); strings.Contains(out, "due ") {
		t.Fatalf("expected due date cleared, got %q", out)
	}

	show := r.mustRun("show", boardID)
	for _, want := range []string{"Sprint 2", "Total tasks: 2", "To Do [" + todo + "] (1)", "Shipped [" + done + "] (1)", "Write docs"} {
		if !strings.Contains(show, want) {
			t.Fatalf("expected %q in\n%s", want, show)
		}
	}
	if strings.Index(show, "To Do") > strings.Index(show, "Shipped") {
		t.Fatalf("columns out of order:\n%s", show)
	}

	filtered := r.mustRun("show", boardID, "--priority", "high")
	if !strings.Contains(filtered, "Total tasks: 1") || strings.Contains(filtered, "Review") {
		t.Fatalf("unexpected filtered view:\n%s", filtered)
	}

	list := r.mustRun("boards")
	if !strings.Contains(list, boardID) || !strings.Contains(list, "Sprint 2") {
		t.Fatalf("unexpected board list %q", list)
	}
}

func TestCommandErrors(t *testing.T) {
	url := newServer(t)
	owner := runner{t: t, url: url, token: token(t, "u1")}
	boardID := idAfter(t, owner.mustRun("create-board", "Private"), "created board ")

	if _, err := owner.run("create-board", "   "); err == nil || err.Error() != "Missing or invalid title" {
		t.Fatalf("expected title error, got %v", err)
	}
	if _, err := owner.run("rename-board", boardID); err == nil || err.Error() != "Nothing to update" {
		t.Fatalf("expected empty patch error, got %v", err)
	}
	if _, err := owner.run("show", boardID, "--priority", "urgent"); err == nil || err.Error() != "Invalid priority" {
		t.Fatalf("expected priority error, got %v", err)
	}

	other := runner{t: t, url: url, token: token(t, "u2")}
	if _, err := other.run("show", boardID); err == nil || !strings.Contains(err.Error(), "load board") {
		t.Fatalf("expected load failure, got %v", err)
	}

	anonymous := runner{t: t, url: url, token: "not-a-jwt"}
	if _, err := anonymous.run("boards"); err == nil {
		t.Fatal("expected unauthenticated error")
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kanbanctl.yaml")
	if err := os.WriteFile(path, []byte("api_url: http://file\ntoken: file-token\ntimeout: 5s\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	newFlags := func() *pflag.FlagSet {
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		fs.String("api-url", defaultAPIURL, "")
		fs.String("token", "", "")
		fs.Duration("timeout", 0, "")
		fs.Bool("debug", false, "")
		return fs
	}

	s, err := loadSettings(newFlags(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.APIURL != "http://file" || s.Token != "file-token" || s.Timeout != 5*time.Second {
		t.Fatalf("unexpected settings from file %+v", s)
	}

	t.Setenv("KANBAN_TOKEN", "env-token")
	flags := newFlags()
	if err := flags.Parse([]string{"--api-url", "http://flag"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err = loadSettings(flags, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.APIURL != "http://flag" || s.Token != "env-token" {
		t.Fatalf("expected flag and env to win, got %+v", s)
	}

	t.Setenv("KANBAN_TOKEN", "")
	if _, err := loadSettings(newFlags(), filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected missing token error")
	}
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter([]string{"High ", "low"}, []string{"alice"}, "2024-06-01")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Priorities) != 2 || f.Priorities[0] != domain.PriorityHigh || f.DueBefore == nil {
		t.Fatalf("unexpected filter %+v", f)
	}
	if _, err := parseFilter(nil, nil, "06/01/2024"); !domain.IsValidation(err) {
		t.Fatalf("expected date validation error, got %v", err)
	}
}

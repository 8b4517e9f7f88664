package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ojcore/internal/cli/command"
	httpclient "ojcore/internal/cli/http"
	"ojcore/internal/cli/state"
	"ojcore/internal/common/http/middleware"
	"ojcore/pkg/errors"
	"ojcore/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   map[string]interface{}
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeAPI) record(c *gin.Context) {
	var body map[string]interface{}
	if data, _ := io.ReadAll(c.Request.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		method: c.Request.Method,
		path:   c.Request.URL.RequestURI(),
		auth:   c.GetHeader("Authorization"),
		body:   body,
	})
	f.mu.Unlock()
}

func (f *fakeAPI) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatalf("no request recorded")
	}
	return f.requests[len(f.requests)-1]
}

func newFakeServer(t *testing.T) (*httptest.Server, *fakeAPI) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	api := &fakeAPI{}
	router := gin.New()
	router.Use(middleware.TraceContextMiddleware())
	router.POST("/api/v1/auth/login", func(c *gin.Context) {
		api.record(c)
		response.Success(c, gin.H{
			"access_token":       "access-1",
			"refresh_token":      "refresh-1",
			"access_expires_at":  time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC),
			"refresh_expires_at": time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC),
			"user":               gin.H{"id": 1, "username": "alice", "role": "user"},
		})
	})
	router.POST("/api/v1/auth/logout", func(c *gin.Context) {
		api.record(c)
		response.Success(c, nil)
	})
	router.GET("/api/v1/submissions/:id", func(c *gin.Context) {
		api.record(c)
		response.Error(c, errors.New(errors.SubmissionNotFound))
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, api
}

func newTestSession(t *testing.T, baseURL string) (*Session, *state.TokenState, string, *bytes.Buffer) {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "state.json")
	tokens := &state.TokenState{}
	client := httpclient.New(baseURL, 5*time.Second, func() string { return tokens.AccessToken })
	session := New(client, command.Registry(), tokens, statePath, false)
	out := &bytes.Buffer{}
	session.SetOutput(out)
	return session, tokens, statePath, out
}

func TestSession_LoginLogoutUpdatesState(t *testing.T) {
	server, api := newFakeServer(t)
	session, tokens, statePath, out := newTestSession(t, server.URL)
	ctx := context.Background()

	if _, err := session.Execute(ctx, `auth login username=alice password="secret 123"`); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := api.last(t); got.body["password"] != "secret 123" || got.auth != "" {
		t.Fatalf("unexpected login request: %+v", got)
	}
	if tokens.AccessToken != "access-1" || tokens.RefreshToken != "refresh-1" || tokens.Username != "alice" {
		t.Fatalf("token state not updated: %+v", tokens)
	}
	saved, err := state.Load(statePath)
	if err != nil || saved.RefreshToken != "refresh-1" {
		t.Fatalf("saved state = %+v, %v", saved, err)
	}
	if !strings.Contains(out.String(), "HTTP 200") {
		t.Fatalf("output missing status line: %s", out.String())
	}

	if _, err := session.Execute(ctx, "auth logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := api.last(t); got.body["refresh_token"] != "refresh-1" {
		t.Fatalf("logout should reuse the stored refresh token: %+v", got)
	}
	if tokens.AccessToken != "" || tokens.RefreshToken != "" {
		t.Fatalf("token state not cleared: %+v", tokens)
	}
	if saved, _ := state.Load(statePath); saved.RefreshToken != "" {
		t.Fatalf("state file not cleared: %+v", saved)
	}
}

func TestSession_AuthHeaderAndErrors(t *testing.T) {
	server, api := newFakeServer(t)
	session, tokens, _, out := newTestSession(t, server.URL)
	tokens.AccessToken = "access-9"
	ctx := context.Background()

	if _, err := session.Execute(ctx, "submit get id=abc"); err != nil {
		t.Fatalf("submit get: %v", err)
	}
	if got := api.last(t); got.auth != "Bearer access-9" || got.path != "/api/v1/submissions/abc" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if !strings.Contains(out.String(), "HTTP 404") || !strings.Contains(out.String(), "trace=") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	tests := []struct {
		name string
		line string
	}{
		{name: "unknown command", line: "submit explode"},
		{name: "single token", line: "submit"},
		{name: "bad param", line: "submit get abc"},
		{name: "missing required", line: "submit get"},
		{name: "unbalanced quote", line: `auth login username="alice`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := session.Execute(ctx, tt.line); err == nil {
				t.Fatalf("expected error for %q", tt.line)
			}
		})
	}
}

func TestSession_PromptsMissingFields(t *testing.T) {
	server, api := newFakeServer(t)
	session, _, _, _ := newTestSession(t, server.URL)
	var asked []string
	session.SetPrompter(func(field command.Field) (string, error) {
		asked = append(asked, field.Name)
		if field.Secret {
			return "hidden-pass", nil
		}
		return "bob", nil
	})

	if _, err := session.Execute(context.Background(), "auth login"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(asked) != 2 || asked[0] != "username" || asked[1] != "password" {
		t.Fatalf("asked = %v", asked)
	}
	if got := api.last(t); got.body["username"] != "bob" || got.body["password"] != "hidden-pass" {
		t.Fatalf("unexpected body: %+v", got.body)
	}
}

func TestSession_SystemCommands(t *testing.T) {
	session, tokens, statePath, out := newTestSession(t, "http://127.0.0.1:1")
	ctx := context.Background()

	if _, err := session.Execute(ctx, "set token abcdefghijklmnop"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if tokens.AccessToken != "abcdefghijklmnop" {
		t.Fatalf("token = %q", tokens.AccessToken)
	}
	if saved, _ := state.Load(statePath); saved.AccessToken != "abcdefghijklmnop" {
		t.Fatalf("token not saved: %+v", saved)
	}
	if _, err := session.Execute(ctx, "show token"); err != nil {
		t.Fatalf("show token: %v", err)
	}
	if !strings.Contains(out.String(), "abcdef...mnop") {
		t.Fatalf("token not masked: %s", out.String())
	}
	if _, err := session.Execute(ctx, "set timeout soon"); err == nil {
		t.Fatalf("expected invalid duration error")
	}
	quit, err := session.Execute(ctx, "exit")
	if err != nil || !quit {
		t.Fatalf("exit = %v, %v", quit, err)
	}
}

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/coderag/internal/app"
	"github.com/sha1n/coderag/internal/config"
	"github.com/sha1n/coderag/internal/llm/llmtest"
	"github.com/sha1n/coderag/tests/integration/testkit"
)

const (
	widgetsURL = "https://github.com/acme/widgets"
	apiKey     = "integration-key"
)

var widgetFiles = map[string]string{
	"main.go":          "package main\n\nfunc main() {\n\tStartWidgetFactory()\n}\n",
	"factory/build.go": "package factory\n\n// StartWidgetFactory assembles widgets.\nfunc StartWidgetFactory() {}\n",
	"README.md":        "# Widgets\n\nThe widget factory.\n",
}

var (
	codebaseIDPattern = regexp.MustCompile(`codebase_id: (\S+)`)
	sessionIDPattern  = regexp.MustCompile(`session_id: (\S+)`)
)

type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-API-Key", t.key)
	return t.base.RoundTrip(r)
}

func startServer(t *testing.T, dataDir string) string {
	t.Helper()

	flags := testkit.NewTestFlags(t, &testkit.FlagOptions{
		AuthType: config.AuthTypeAPIKey,
		APIKeys:  apiKey,
		DataDir:  dataDir,
	})
	provider := llmtest.NewProvider()
	answer := llmtest.Answer("The factory is started from main.go.")
	provider.Repeat = &answer

	params := app.DefaultRunParams()
	params.Build = testkit.FakeBuild(widgetFiles, provider)

	env := testkit.NewTestEnv(testkit.NewServerService("coderag", flags, params))
	props, err := env.Start()
	if err != nil {
		t.Fatalf("Failed to start env: %v", err)
	}
	t.Cleanup(func() {
		if err := env.Stop(); err != nil {
			t.Errorf("Failed to stop env: %v", err)
		}
	})
	return props[testkit.PropBaseURL].(string)
}

func connect(t *testing.T, transport mcp.Transport) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "test"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func authClient() *http.Client {
	return &http.Client{Transport: &apiKeyTransport{key: apiKey, base: http.DefaultTransport}}
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("%s returned no content", name)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if res.IsError {
		t.Fatalf("%s returned an error: %s", name, text)
	}
	return text
}

func match(t *testing.T, re *regexp.Regexp, text string) string {
	t.Helper()
	m := re.FindStringSubmatch(text)
	if m == nil {
		t.Fatalf("Expected %s in %q", re, text)
	}
	return m[1]
}

func TestServer_ConversationOverTransports(t *testing.T) {
	tests := []struct {
		name      string
		transport func(baseURL string) mcp.Transport
	}{
		{
			name: "sse",
			transport: func(baseURL string) mcp.Transport {
				return &mcp.SSEClientTransport{Endpoint: baseURL + "/sse", HTTPClient: authClient()}
			},
		},
		{
			name: "streamable",
			transport: func(baseURL string) mcp.Transport {
				return &mcp.StreamableClientTransport{Endpoint: baseURL + "/mcp", HTTPClient: authClient()}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseURL := startServer(t, t.TempDir())
			session := connect(t, tt.transport(baseURL))

			ingested := callTool(t, session, "ingest_repository", map[string]any{"url": widgetsURL})
			codebaseID := match(t, codebaseIDPattern, ingested)
			if !strings.Contains(ingested, "file_count: 3") {
				t.Errorf("Expected 3 indexed files, got %q", ingested)
			}

			again := callTool(t, session, "ingest_repository", map[string]any{"url": widgetsURL + ".git"})
			if match(t, codebaseIDPattern, again) != codebaseID {
				t.Errorf("Expected re-ingestion to reuse %s, got %q", codebaseID, again)
			}

			found := callTool(t, session, "search_code", map[string]any{"codebase_id": codebaseID, "query": "StartWidgetFactory"})
			if !strings.Contains(found, "factory/build.go") {
				t.Errorf("Expected search to find factory/build.go, got %q", found)
			}

			reply := callTool(t, session, "send_message", map[string]any{"codebase_id": codebaseID, "message": "Where does the factory start?"})
			if !strings.Contains(reply, "main.go") {
				t.Errorf("Unexpected reply %q", reply)
			}
			sessionID := match(t, sessionIDPattern, reply)

			callTool(t, session, "send_message", map[string]any{"codebase_id": codebaseID, "session_id": sessionID, "message": "And then?"})

			var view struct {
				ID           string `json:"id"`
				MessageCount int    `json:"message_count"`
			}
			got := callTool(t, session, "get_session", map[string]any{"session_id": sessionID})
			if err := json.Unmarshal([]byte(got), &view); err != nil {
				t.Fatalf("Failed to decode session: %v", err)
			}
			if view.MessageCount != 4 {
				t.Errorf("Expected 4 messages, got %d", view.MessageCount)
			}

			var sessions []struct {
				ID string `json:"id"`
			}
			listed := callTool(t, session, "list_sessions", map[string]any{"codebase_id": codebaseID})
			if err := json.Unmarshal([]byte(listed), &sessions); err != nil {
				t.Fatalf("Failed to decode sessions: %v", err)
			}
			if len(sessions) != 1 || sessions[0].ID != sessionID {
				t.Errorf("Expected only session %s, got %v", sessionID, sessions)
			}

			callTool(t, session, "delete_codebase", map[string]any{"codebase_id": codebaseID})
			listed = callTool(t, session, "list_codebases", map[string]any{})
			if strings.Contains(listed, codebaseID) {
				t.Errorf("Expected %s to be deleted, got %q", codebaseID, listed)
			}
		})
	}
}

func TestServer_PersistsAcrossRestarts(t *testing.T) {
	dataDir := t.TempDir()

	var codebaseID string
	t.Run("first run", func(t *testing.T) {
		baseURL := startServer(t, dataDir)
		session := connect(t, &mcp.SSEClientTransport{Endpoint: baseURL + "/sse", HTTPClient: authClient()})
		codebaseID = match(t, codebaseIDPattern, callTool(t, session, "ingest_repository", map[string]any{"url": widgetsURL}))
	})

	t.Run("second run", func(t *testing.T) {
		baseURL := startServer(t, dataDir)
		session := connect(t, &mcp.SSEClientTransport{Endpoint: baseURL + "/sse", HTTPClient: authClient()})

		status := callTool(t, session, "get_ingestion_status", map[string]any{"codebase_id": codebaseID})
		if !strings.Contains(status, `"completed"`) {
			t.Errorf("Expected codebase to still be ready, got %q", status)
		}
		found := callTool(t, session, "search_code", map[string]any{"codebase_id": codebaseID, "query": "widgets"})
		if strings.HasPrefix(found, "No results") {
			t.Errorf("Expected the index to survive a restart, got %q", found)
		}
	})
}

func TestServer_RejectsMissingAPIKey(t *testing.T) {
	baseURL := startServer(t, t.TempDir())

	resp, err := http.Get(baseURL + "/sse")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "test"}, nil)
	if _, err := client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: baseURL + "/sse"}, nil); err == nil {
		t.Error("Expected connect without an API key to fail")
	}
}

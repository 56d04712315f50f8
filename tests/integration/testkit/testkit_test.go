package testkit

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sha1n/coderag/internal/app"
	"github.com/sha1n/coderag/internal/config"
	"github.com/sha1n/coderag/internal/llm/llmtest"
)

type mockService struct {
	name       string
	startProps map[string]any
	startErr   error
	stopErr    error
	started    bool
	stopped    bool
	onStop     func()
}

func (m *mockService) Start() (map[string]any, error) {
	m.started = true
	return m.startProps, m.startErr
}

func (m *mockService) Stop() error {
	m.stopped = true
	if m.onStop != nil {
		m.onStop()
	}
	return m.stopErr
}

func (m *mockService) GetName() string {
	return m.name
}

func TestNewTestEnv(t *testing.T) {
	env := NewTestEnv(&mockService{name: "svc"})

	props := env.GetContext().GetProperties()
	if props == nil {
		t.Fatal("Expected non-nil properties map")
	}
	if len(props) != 0 {
		t.Errorf("Expected empty properties, got %d", len(props))
	}
}

func TestTestEnvStart_MergesProperties(t *testing.T) {
	first := &mockService{name: "first", startProps: map[string]any{"a": 1, "shared": "first"}}
	second := &mockService{name: "second", startProps: map[string]any{"b": 2, "shared": "second"}}
	env := NewTestEnv(first, second)

	props, err := env.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if props["a"] != 1 || props["b"] != 2 {
		t.Errorf("Unexpected properties: %v", props)
	}
	if props["shared"] != "second" {
		t.Errorf("Expected later service to win, got %v", props["shared"])
	}
	if v, ok := env.GetContext().GetProperty("b"); !ok || v != 2 {
		t.Errorf("GetProperty(b) = %v, %v", v, ok)
	}
	if _, ok := env.GetContext().GetProperty("missing"); ok {
		t.Error("Expected missing property to be absent")
	}
}

func TestTestEnvStart_FailureStopsStartedServices(t *testing.T) {
	first := &mockService{name: "first"}
	failing := &mockService{name: "failing", startErr: errors.New("boom")}
	never := &mockService{name: "never"}
	env := NewTestEnv(first, failing, never)

	_, err := env.Start()
	if err == nil {
		t.Fatal("Expected start error")
	}
	if !strings.Contains(err.Error(), "failing") {
		t.Errorf("Expected error to name the service, got %v", err)
	}
	if !first.stopped {
		t.Error("Expected started service to be stopped")
	}
	if failing.stopped || never.started {
		t.Error("Expected only started services to be touched")
	}
}

func TestTestEnvStop_ReverseOrderAndJoinedErrors(t *testing.T) {
	var order []string
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	a := &mockService{name: "a", stopErr: errA}
	b := &mockService{name: "b", stopErr: errB}
	a.onStop = func() { order = append(order, "a") }
	b.onStop = func() { order = append(order, "b") }
	env := NewTestEnv(a, b)

	if _, err := env.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := env.Stop()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Expected both stop errors, got %v", err)
	}
	if strings.Join(order, ",") != "b,a" {
		t.Errorf("Expected reverse stop order, got %v", order)
	}

	order = nil
	if err := env.Stop(); err != nil {
		t.Errorf("Expected second stop to be a no-op, got %v", err)
	}
	if len(order) != 0 {
		t.Errorf("Expected no services stopped twice, got %v", order)
	}
}

func TestGetFreePort(t *testing.T) {
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("GetFreePort failed: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("Invalid port: %d", port)
	}
}

func TestGetFreePortWithAddr_InvalidAddr(t *testing.T) {
	if _, err := getFreePortWithAddr("invalid:address:format"); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestNewTestFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		flags := NewTestFlags(t, nil)

		assertFlag(t, flags.Lookup("transport").Value.String(), config.TransportSSE)
		assertFlag(t, flags.Lookup("auth-type").Value.String(), config.AuthTypeNone)
		assertFlag(t, flags.Lookup("host").Value.String(), "localhost")
		assertFlag(t, flags.Lookup("use-bridge").Value.String(), "false")
		if flags.Lookup("data-dir").Value.String() == "" {
			t.Error("Expected a data dir")
		}
		if port, _ := flags.GetInt("port"); port <= 0 {
			t.Errorf("Expected a free port, got %d", port)
		}
	})

	t.Run("custom options", func(t *testing.T) {
		dir := t.TempDir()
		flags := NewTestFlags(t, &FlagOptions{
			Port:      9999,
			Transport: config.TransportStdio,
			AuthType:  config.AuthTypeAPIKey,
			Host:      "127.0.0.1",
			DataDir:   dir,
			APIKeys:   "k1,k2",
		})

		assertFlag(t, flags.Lookup("port").Value.String(), "9999")
		assertFlag(t, flags.Lookup("transport").Value.String(), config.TransportStdio)
		assertFlag(t, flags.Lookup("auth-type").Value.String(), config.AuthTypeAPIKey)
		assertFlag(t, flags.Lookup("host").Value.String(), "127.0.0.1")
		assertFlag(t, flags.Lookup("data-dir").Value.String(), dir)
		keys, _ := flags.GetStringSlice("auth-api-keys")
		if len(keys) != 2 {
			t.Errorf("Expected 2 api keys, got %v", keys)
		}
	})
}

func TestServerService_StartAndStop(t *testing.T) {
	flags := NewTestFlags(t, nil)
	params := app.DefaultRunParams()
	params.Build = FakeBuild(map[string]string{"main.go": "package main\n"}, llmtest.NewProvider())
	svc := NewServerService("coderag", flags, params)

	if svc.GetName() != "coderag" {
		t.Errorf("Unexpected name %q", svc.GetName())
	}

	props, err := svc.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	baseURL, _ := props[PropBaseURL].(string)
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if err := svc.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("Second stop failed: %v", err)
	}
}

func TestServerService_StartFailsOnInvalidConfig(t *testing.T) {
	flags := NewTestFlags(t, &FlagOptions{AuthType: config.AuthTypeBasic})
	params := app.DefaultRunParams()
	params.Build = FakeBuild(nil, llmtest.NewProvider())
	svc := NewServerService("coderag", flags, params)

	if _, err := svc.Start(); err == nil {
		t.Fatal("Expected start to fail for basic auth without credentials")
	}
	_ = svc.Stop()
}

func assertFlag(t *testing.T, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

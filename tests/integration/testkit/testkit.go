package testkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sha1n/coderag/internal/app"
	"github.com/sha1n/coderag/internal/config"
	"github.com/sha1n/coderag/internal/kvstore"
	"github.com/sha1n/coderag/internal/llm"
	"github.com/sha1n/coderag/internal/source"
	"github.com/spf13/pflag"
)

// PropBaseURL is the property under which ServerService publishes its address
const PropBaseURL = "base_url"

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type envContext struct {
	properties map[string]any
}

func (c *envContext) GetProperties() map[string]any {
	return c.properties
}

func (c *envContext) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type env struct {
	services []Service
	started  int
	context  *envContext
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &env{
		services: services,
		context:  &envContext{properties: make(map[string]any)},
	}
}

// Start starts services in order. Services that started before a failure
// are stopped again.
func (e *env) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			_ = e.Stop()
			return nil, fmt.Errorf("failed to start %s: %w", s.GetName(), err)
		}
		e.started++
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

// Stop stops started services in reverse order and returns all errors
func (e *env) Stop() error {
	var errs []error
	for i := e.started - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	e.started = 0
	return errors.Join(errs...)
}

func (e *env) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int    // Uses free port if 0
	Transport string // Defaults to "sse"
	AuthType  string // Defaults to "none"
	Host      string // Defaults to "localhost"
	DataDir   string // Uses a test temp dir if empty
	APIKeys   string // Comma separated, for the apikey auth type
}

// NewTestFlags creates a serve flag set pointing at an isolated data dir
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)
	app.RegisterServeFlags(flags)

	o := FlagOptions{Transport: config.TransportSSE, AuthType: config.AuthTypeNone, Host: "localhost"}
	if opts != nil {
		if opts.Port != 0 {
			o.Port = opts.Port
		}
		if opts.Transport != "" {
			o.Transport = opts.Transport
		}
		if opts.AuthType != "" {
			o.AuthType = opts.AuthType
		}
		if opts.Host != "" {
			o.Host = opts.Host
		}
		o.DataDir = opts.DataDir
		o.APIKeys = opts.APIKeys
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.DataDir == "" {
		o.DataDir = t.TempDir()
	}

	set := func(name, value string) {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Failed to set flag %s: %v", name, err)
		}
	}
	set("port", fmt.Sprintf("%d", o.Port))
	set("transport", o.Transport)
	set("auth-type", o.AuthType)
	set("host", o.Host)
	set("data-dir", o.DataDir)
	if o.APIKeys != "" {
		set("auth-api-keys", o.APIKeys)
	}
	// Keep integration runs independent of any real provider.
	set("use-bridge", "false")
	return flags
}

// FakeBuild returns a component builder over a real bolt store and bleve
// index that clones files instead of repositories and answers with provider.
func FakeBuild(files map[string]string, provider llm.Provider) func(context.Context, *config.Settings, string, *slog.Logger) (*app.Components, error) {
	return func(_ context.Context, settings *config.Settings, version string, logger *slog.Logger) (*app.Components, error) {
		store, err := kvstore.OpenBolt(settings.Store.Path, settings.Store.OpenTimeout)
		if err != nil {
			return nil, err
		}
		cloner := &source.FakeCloner{Files: files, Revision: "feedfacecafebeef0000"}
		return app.Assemble(settings, app.Resources{Store: store, Cloner: cloner, Provider: provider}, version, logger), nil
	}
}

// ServerService runs the coderag server in process for the life of a test env
type ServerService struct {
	name    string
	flags   *pflag.FlagSet
	params  app.RunParams
	timeout time.Duration

	cancel context.CancelFunc
	done   chan error
}

// NewServerService creates a service that serves over the transport
// configured in flags using params.
func NewServerService(name string, flags *pflag.FlagSet, params app.RunParams) *ServerService {
	return &ServerService{name: name, flags: flags, params: params, timeout: 10 * time.Second}
}

// GetName returns the service name
func (s *ServerService) GetName() string {
	return s.name
}

// Start runs the server and waits until /health answers
func (s *ServerService) Start() (map[string]any, error) {
	host, err := s.flags.GetString("host")
	if err != nil {
		return nil, err
	}
	port, err := s.flags.GetInt("port")
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- app.RunWithDeps(ctx, s.params, s.flags, "test")
	}()

	if err := s.waitHealthy(baseURL + "/health"); err != nil {
		cancel()
		return nil, err
	}
	return map[string]any{PropBaseURL: baseURL}, nil
}

func (s *ServerService) waitHealthy(url string) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(s.timeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-s.done:
			s.done <- err
			return fmt.Errorf("server exited before becoming healthy: %w", err)
		default:
		}
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("server not healthy after %s", s.timeout)
}

// Stop cancels the server and waits for it to exit
func (s *ServerService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	select {
	case err := <-s.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-time.After(s.timeout):
		return fmt.Errorf("%s did not stop within %s", s.name, s.timeout)
	}
}

// Package toolbridge connects to MCP tool servers with short-lived,
// per-call client sessions.
package toolbridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	// ErrUnknownServer is returned when connecting to a server that was never registered.
	ErrUnknownServer = errors.New("unknown tool server")
	// ErrNotConnected is returned by calls made outside Connect/Disconnect.
	ErrNotConnected = errors.New("not connected to a tool server")
	// ErrToolFailed reports a tool result flagged as an error by the server.
	ErrToolFailed = errors.New("tool call failed")
)

// ServerFactory builds a fresh in-process MCP server for one connection.
type ServerFactory func() *mcp.Server

// CommandSpec launches an MCP server as a subprocess speaking over stdio.
type CommandSpec struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Registry knows how to reach each named tool server.
type Registry struct {
	impl *mcp.Implementation

	mu        sync.RWMutex
	inProcess map[string]ServerFactory
	commands  map[string]CommandSpec
}

// NewRegistry creates an empty registry. The name and version identify the client to servers.
func NewRegistry(clientName, clientVersion string) *Registry {
	return &Registry{
		impl:      &mcp.Implementation{Name: clientName, Version: clientVersion},
		inProcess: make(map[string]ServerFactory),
		commands:  make(map[string]CommandSpec),
	}
}

// RegisterInProcess registers a server served over in-memory transports.
func (r *Registry) RegisterInProcess(name string, factory ServerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
	r.inProcess[name] = factory
}

// RegisterCommand registers a server started as a subprocess on each connection.
func (r *Registry) RegisterCommand(name string, spec CommandSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inProcess, name)
	r.commands[name] = spec
}

// Names returns the registered server names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.inProcess)+len(r.commands))
	for n := range r.inProcess {
		names = append(names, n)
	}
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewBridge returns a disconnected bridge backed by this registry.
func (r *Registry) NewBridge() *Bridge {
	return &Bridge{registry: r}
}

// dial opens a client session to the named server. The returned func closes it.
func (r *Registry) dial(ctx context.Context, name string) (*mcp.ClientSession, func() error, error) {
	r.mu.RLock()
	factory, inProcess := r.inProcess[name]
	spec, isCommand := r.commands[name]
	r.mu.RUnlock()

	client := mcp.NewClient(r.impl, nil)

	switch {
	case inProcess:
		clientTransport, serverTransport := mcp.NewInMemoryTransports()
		serverSession, err := factory().Connect(ctx, serverTransport, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start server %s: %w", name, err)
		}
		session, err := client.Connect(ctx, clientTransport, nil)
		if err != nil {
			_ = serverSession.Close()
			return nil, nil, fmt.Errorf("failed to connect to server %s: %w", name, err)
		}
		return session, func() error {
			err := session.Close()
			_ = serverSession.Close()
			return err
		}, nil

	case isCommand:
		cmd := exec.Command(spec.Command, spec.Args...)
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to server %s: %w", name, err)
		}
		return session, session.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
}

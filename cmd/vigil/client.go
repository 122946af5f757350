package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/steveyegge/vigil/internal/agent"
	"github.com/steveyegge/vigil/internal/control"
	"github.com/steveyegge/vigil/internal/repl"
	"github.com/steveyegge/vigil/internal/storage"
	"github.com/steveyegge/vigil/internal/storage/sqlite"
)

// dialAgent returns a client for the watch agent, or nil when none is
// listening on the control socket.
func dialAgent() *control.Client {
	socketPath := cfg.SocketPath()
	if _, err := os.Stat(socketPath); err != nil {
		return nil
	}
	client := control.NewClient(socketPath)
	client.SetTimeout(2 * time.Second)
	if _, err := client.Stats(); err != nil {
		logger.Debug("control socket present but agent not answering")
		return nil
	}
	client.SetTimeout(cfg.Inference.RequestTimeout.D() + 30*time.Second)
	return client
}

// requireAgent is dialAgent for commands that only make sense against a
// running watch agent.
func requireAgent() (*control.Client, error) {
	client := dialAgent()
	if client == nil {
		return nil, fmt.Errorf("no running agent for %s (start one with 'vigil watch')", cfg.RootPath)
	}
	return client, nil
}

// controller prefers the running agent. Without one it builds a local agent
// that lives for the duration of the command; the returned func closes it.
func controller(ctx context.Context, disableAI bool) (repl.Controller, func(), error) {
	if client := dialAgent(); client != nil {
		return repl.NewRemote(client), func() {}, nil
	}
	a, err := agent.New(ctx, cfg, agent.Deps{DisableAI: disableAI, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return repl.NewLocal(a), func() { _ = a.Close() }, nil
}

// openStore opens the pattern store directly, for commands that do not need
// an agent.
func openStore(ctx context.Context) (storage.Store, error) {
	return storage.NewStorage(ctx, &storage.Config{
		Path: cfg.DBPath(),
		Tuning: sqlite.Tuning{
			SeedConfidence:     cfg.Patterns.SeedConfidence,
			DetectionIncrement: cfg.Patterns.DetectionIncrement,
			FixIncrement:       cfg.Patterns.FixIncrement,
		},
	})
}

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/santa-link/internal/ble"
	"github.com/chaz8081/santa-link/internal/dispatch"
	"github.com/chaz8081/santa-link/internal/program"
	"github.com/chaz8081/santa-link/internal/session"
	"github.com/chaz8081/santa-link/internal/tools"
)

// runtime is the wired robot link used by shell, run and serve.
type runtime struct {
	registry   *tools.Registry
	manager    *ble.Manager
	dispatcher *dispatch.Dispatcher
	runner     *program.Runner

	closeStore func() error
}

// openStore opens the session store described by the config. An empty
// session path keeps the session in memory for this process only.
func (a *app) openStore() (*session.Store, func() error, error) {
	opts := []session.Option{session.WithTTL(a.cfg.Session.TTL)}
	if a.cfg.Session.Path == "" {
		return session.NewStore(session.NewMemoryStorage(), opts...), func() error { return nil }, nil
	}
	storage, err := session.OpenSQLite(a.cfg.Session.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return session.NewStore(storage, opts...), storage.Close, nil
}

// openRuntime wires adapter, manager, dispatcher and program runner. The
// runner is registered as the manager's halter.
func (a *app) openRuntime(listeners ...ble.Listener) (*runtime, error) {
	adapter, err := ble.NewAdapter()
	if err != nil {
		return nil, err
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(slog.Default())
	opts := make([]ble.Option, 0, len(listeners))
	for _, l := range listeners {
		opts = append(opts, ble.WithListener(l))
	}
	manager := ble.NewManager(adapter, registry, store, ble.OptionsFromConfig(a.cfg.BLE), opts...)

	dispatcher := dispatch.NewDispatcher(manager, registry)
	runner := program.NewRunner(dispatcher, registry)
	manager.AddHalter(runner)

	return &runtime{
		registry:   registry,
		manager:    manager,
		dispatcher: dispatcher,
		runner:     runner,
		closeStore: closeStore,
	}, nil
}

// Close halts any program, drops the link and closes the session store.
func (r *runtime) Close() error {
	r.runner.Halt()
	return errors.Join(r.manager.Close(), r.closeStore())
}

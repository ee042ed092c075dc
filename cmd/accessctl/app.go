package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/config"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/db"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/logging"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/service"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store/memory"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio/serialbridge"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/radio/sim"
)

// simCapacity is the card table size of simulated units.
const simCapacity = 1024

// app is the dependency graph shared by every subcommand.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	svc      *service.CommutatorService
	statuses store.StatusStore
	simulate bool

	closers []func()
}

func openApp(ctx context.Context, f *flags) (*app, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		log:      logging.New("accessctl"),
		registry: prometheus.NewRegistry(),
		simulate: f.simulate,
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tr, err := a.openRadio()
	if err != nil {
		return nil, err
	}

	units, statuses, events, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.statuses = statuses

	reg, err := service.NewUnitRegistry(units, cfg.Units)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := reg.Sync(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("register units: %w", err)
	}

	a.svc, err = service.NewCommutatorService(tr, reg, statuses, events, service.Config{
		MemoryWarnRatio: cfg.MemoryWarnRatio,
		LinkOptions:     cfg.LinkOptions(),
		LinkMetrics:     link.NewMetrics(a.registry),
		Metrics:         service.NewMetrics(a.registry),
		Logger:          a.log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRadio() (radio.Transceiver, error) {
	if a.simulate {
		units := make([]*sim.Unit, 0, len(a.cfg.Units))
		for _, u := range a.cfg.Units {
			units = append(units, sim.NewUnit(u.Channel, simCapacity, sim.Faults{}))
		}
		a.log.Warn().Int("units", len(units)).Msg("using simulated radio")
		return sim.NewRadio(units...), nil
	}

	b, err := serialbridge.Open(a.cfg.Radio.Port, a.cfg.Radio.Baud, a.cfg.Radio.Timeout, serialbridge.DefaultSettings(), a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = b.Close() })
	return b, nil
}

func (a *app) openStores(ctx context.Context) (store.UnitStore, store.StatusStore, store.EventStore, error) {
	if a.simulate {
		units := memory.NewUnitStore()
		return units, memory.NewStatusStore(units), memory.NewEventStore(units), nil
	}

	conn, err := db.Open(ctx, db.Config{Path: a.cfg.DBPath, Env: a.cfg.Env}, a.log)
	if err != nil {
		return nil, nil, nil, err
	}
	w := db.NewWorker(conn, db.NewWorkerMetrics(a.registry))
	a.closers = append(a.closers, func() {
		w.Close()
		closeDB(conn, a.log)
	})
	return sqlite.NewUnitStore(conn, w), sqlite.NewStatusStore(conn, w), sqlite.NewEventStore(conn, w), nil
}

// Close releases the radio and database in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeDB(conn *sql.DB, log zerolog.Logger) {
	if err := conn.Close(); err != nil {
		log.Error().Err(err).Msg("close database")
	}
}

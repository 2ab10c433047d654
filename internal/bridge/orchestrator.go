package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/hub"
	"github.com/danmuck/elanbridge/internal/logging"
	"github.com/danmuck/elanbridge/internal/registry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrMissingCollaborator = errors.New("bridge: hub and bus are required")

// Config holds the per-run loop settings.
type Config struct {
	TopicPrefix     string
	DiscoveryPrefix string

	StatusInterval time.Duration
	// DiscoveryInterval <= 0 announces once per run.
	DiscoveryInterval    time.Duration
	StreamRetryInterval  time.Duration
	StreamRetries        int
	DisableAutodiscovery bool
}

func DefaultConfig() Config {
	return Config{
		TopicPrefix:         "eLan",
		DiscoveryPrefix:     "homeassistant",
		StatusInterval:      60 * time.Second,
		DiscoveryInterval:   10 * time.Minute,
		StreamRetryInterval: time.Second,
		StreamRetries:       5,
	}
}

// RunStatus is a point-in-time view of one run.
type RunStatus struct {
	RunID        string
	HubState     string
	BusConnected bool
	Devices      int
	QueueDepth   int
}

// Orchestrator runs the bridge loops once. It owns hub and bus for the
// duration of Run and closes both when Run returns.
type Orchestrator struct {
	cfg   Config
	hub   Hub
	bus   Bus
	runID string
	log   zerolog.Logger

	registry atomic.Pointer[registry.Registry]
	fatal    chan error
}

func NewOrchestrator(cfg Config, h Hub, b Bus, runID string) (*Orchestrator, error) {
	if h == nil || b == nil {
		return nil, ErrMissingCollaborator
	}
	def := DefaultConfig()
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = def.TopicPrefix
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = def.DiscoveryPrefix
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.StreamRetryInterval < 0 {
		cfg.StreamRetryInterval = 0
	}
	return &Orchestrator{
		cfg:   cfg,
		hub:   h,
		bus:   b,
		runID: runID,
		log:   logging.Component("bridge").With().Str("run_id", runID).Logger(),
		fatal: make(chan error, 1),
	}, nil
}

// WithLogger replaces the component logger.
func (o *Orchestrator) WithLogger(l zerolog.Logger) *Orchestrator {
	o.log = l
	return o
}

// Registry returns the registry of the current run, nil before it is built.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry.Load()
}

func (o *Orchestrator) Status() RunStatus {
	st := RunStatus{
		RunID:        o.runID,
		HubState:     o.hub.State().String(),
		BusConnected: o.bus.Connected(),
		QueueDepth:   o.bus.QueueDepth(),
	}
	if reg := o.registry.Load(); reg != nil {
		st.Devices = reg.Len()
	}
	return st
}

// Run builds the registry and runs the loops until ctx ends or one of them
// fails. It returns nil on cancellation and the first fatal error
// otherwise.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		_ = o.bus.Close()
		_ = o.hub.Close()
	}()

	records, err := o.hub.FetchDevices(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return faults.Fatal("fetch device list: %w", err)
	}
	reg := registry.Build(records, o.cfg.TopicPrefix, o.log)
	o.registry.Store(reg)
	o.log.Info().Int("devices", reg.Len()).Msg("bridge run starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.bus.RunPublisher(gctx) })
	g.Go(func() error { return o.statusLoop(gctx, reg) })
	g.Go(func() error { return o.discoveryLoop(gctx, reg) })
	g.Go(func() error { return o.streamLoop(gctx, reg) })
	g.Go(func() error { return o.commandLoop(gctx, reg) })
	g.Go(func() error {
		select {
		case err := <-o.fatal:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	if ctx.Err() != nil {
		o.log.Info().Msg("bridge run stopped")
		return nil
	}
	if err == nil {
		err = faults.Fatal("bridge loops exited without error")
	}
	return err
}

// raise reports an error that must end the run. Only the first is kept.
func (o *Orchestrator) raise(err error) {
	select {
	case o.fatal <- err:
	default:
	}
}

// escalate raises err when the hub session can no longer be recovered.
// A caller that gave up waiting on another caller's login does not know
// how that login ended, so it never escalates.
func (o *Orchestrator) escalate(err error) {
	if errors.Is(err, hub.ErrLoginWaitTimeout) {
		return
	}
	switch faults.Classify(err) {
	case faults.KindAuth, faults.KindFatal:
		o.raise(faults.Fatal("hub session lost: %w", err))
	}
}

package bridge

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/elanbridge/internal/logging"
	"github.com/danmuck/elanbridge/internal/observability"
	"github.com/danmuck/elanbridge/internal/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNoFactory = errors.New("bridge: run factory required")

// Runner is one bridge run.
type Runner interface {
	Run(ctx context.Context) error
	Status() RunStatus
}

// Factory builds a runner with fresh connections for every run.
type Factory interface {
	Build(runID string) (Runner, error)
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(runID string) (Runner, error)

func (f FactoryFunc) Build(runID string) (Runner, error) { return f(runID) }

// Status is the process view reported by the admin endpoint.
type Status struct {
	Status       string        `json:"status"`
	Uptime       time.Duration `json:"-"`
	UptimeSec    int64         `json:"uptime"`
	RunID        string        `json:"run_id"`
	HubState     string        `json:"hub_state"`
	BusConnected bool          `json:"bus_connected"`
	Devices      int           `json:"devices"`
	QueueDepth   int           `json:"queue_depth"`
	Restarts     uint64        `json:"restarts"`
}

// Service restarts the bridge run after a cooldown whenever it fails.
// A full restart is the only coarse recovery; nothing is reused between
// runs.
type Service struct {
	factory  Factory
	cooldown time.Duration
	log      zerolog.Logger
	started  time.Time

	restarts atomic.Uint64
	mu       sync.RWMutex
	current  Runner
	lastErr  error
}

func NewService(factory Factory, cooldown time.Duration) (*Service, error) {
	if factory == nil {
		return nil, ErrNoFactory
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Service{
		factory:  factory,
		cooldown: cooldown,
		log:      logging.Component("bridge"),
		started:  time.Now(),
	}, nil
}

// WithLogger replaces the component logger.
func (s *Service) WithLogger(l zerolog.Logger) *Service {
	s.log = l
	return s
}

// Run blocks until ctx ends or the process receives SIGINT/SIGTERM.
// Shutdown is never an error.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		runID := uuid.NewString()
		err := s.runOnce(ctx, runID)
		if ctx.Err() != nil {
			s.log.Info().Msg("bridge service shutdown")
			return nil
		}

		s.setLastErr(err)
		n := s.restarts.Add(1)
		observability.RecordRestart()
		s.log.Error().Err(err).Str("run_id", runID).Uint64("restarts", n).Dur("cooldown", s.cooldown).
			Msg("bridge run failed; restarting after cooldown")
		if err := retry.Sleep(ctx, s.cooldown); err != nil {
			s.log.Info().Msg("bridge service shutdown")
			return nil
		}
	}
}

func (s *Service) runOnce(ctx context.Context, runID string) error {
	runner, err := s.factory.Build(runID)
	if err != nil {
		return err
	}
	s.setCurrent(runner)
	defer s.setCurrent(nil)
	s.log.Info().Str("run_id", runID).Msg("bridge run started")
	return runner.Run(ctx)
}

func (s *Service) setCurrent(r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = r
}

func (s *Service) setLastErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// Restarts is the number of failed runs so far.
func (s *Service) Restarts() uint64 {
	return s.restarts.Load()
}

// LastError is the error that ended the previous run, if any.
func (s *Service) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Service) Status() Status {
	uptime := time.Since(s.started)
	st := Status{
		Status:    "restarting",
		Uptime:    uptime,
		UptimeSec: int64(uptime / time.Second),
		Restarts:  s.restarts.Load(),
	}
	s.mu.RLock()
	runner := s.current
	s.mu.RUnlock()
	if runner == nil {
		return st
	}
	rs := runner.Status()
	st.Status = "ok"
	st.RunID = rs.RunID
	st.HubState = rs.HubState
	st.BusConnected = rs.BusConnected
	st.Devices = rs.Devices
	st.QueueDepth = rs.QueueDepth
	return st
}

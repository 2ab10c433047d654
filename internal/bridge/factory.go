package bridge

import (
	"time"

	"github.com/danmuck/elanbridge/internal/bus"
	"github.com/danmuck/elanbridge/internal/hub"
)

// ServiceConfig is the complete runtime configuration of the bridge process.
type ServiceConfig struct {
	Hub             hub.Config
	Bus             bus.Config
	Bridge          Config
	RestartCooldown time.Duration
	AdminListen     string
	AdminToken      string
	AdminOrigins    []string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Hub:             hub.DefaultConfig(),
		Bus:             bus.DefaultConfig(),
		Bridge:          DefaultConfig(),
		RestartCooldown: 10 * time.Second,
	}
}

// NewClientFactory builds every run from a fresh hub client, a fresh bus
// client and a new orchestrator.
func NewClientFactory(cfg ServiceConfig) Factory {
	return FactoryFunc(func(runID string) (Runner, error) {
		h, err := hub.NewClient(cfg.Hub)
		if err != nil {
			return nil, err
		}
		b, err := bus.NewClient(cfg.Bus)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		return NewOrchestrator(cfg.Bridge, h, b, runID)
	})
}

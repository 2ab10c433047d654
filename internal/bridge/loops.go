package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/elanbridge/internal/bus"
	"github.com/danmuck/elanbridge/internal/discovery"
	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/hub"
	"github.com/danmuck/elanbridge/internal/observability"
	"github.com/danmuck/elanbridge/internal/registry"
	"github.com/danmuck/elanbridge/internal/retry"
)

// statusLoop publishes every device status now and then on each tick.
func (o *Orchestrator) statusLoop(ctx context.Context, reg *registry.Registry) error {
	ticker := time.NewTicker(o.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		for _, d := range reg.All() {
			if ctx.Err() != nil {
				return nil
			}
			o.publishStatus(ctx, d)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// publishStatus fetches one device status and queues it. Failures are
// logged and skipped; the next tick supersedes them.
func (o *Orchestrator) publishStatus(ctx context.Context, d *registry.Device) bool {
	body, err := o.hub.Get(ctx, d.StatusURL)
	if err != nil {
		if ctx.Err() == nil {
			o.log.Warn().Err(err).Str("address", d.Address).Str("url", d.StatusURL).Msg("status fetch failed; skipping device")
			o.escalate(err)
		}
		return false
	}
	if len(body) == 0 {
		return false
	}
	o.bus.Enqueue(d.StatusTopic, body, "status "+d.Address)
	return true
}

// discoveryLoop announces every device. Disabled autodiscovery announces
// nothing; a non-positive interval announces once.
func (o *Orchestrator) discoveryLoop(ctx context.Context, reg *registry.Registry) error {
	if o.cfg.DisableAutodiscovery {
		o.log.Info().Msg("autodiscovery disabled")
		return nil
	}
	o.publishDiscovery(ctx, reg)
	if o.cfg.DiscoveryInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(o.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.publishDiscovery(ctx, reg)
		}
	}
}

func (o *Orchestrator) publishDiscovery(ctx context.Context, reg *registry.Registry) {
	announced := 0
	for _, d := range reg.All() {
		if ctx.Err() != nil {
			return
		}
		payloads, err := discovery.Payloads(o.cfg.DiscoveryPrefix, d)
		if err != nil {
			o.log.Warn().Err(err).Str("address", d.Address).Msg("discovery payload failed")
			continue
		}
		if len(payloads) == 0 {
			o.log.Debug().Str("address", d.Address).Str("kind", string(discovery.Classify(d.Descriptor))).Msg("no discovery for device")
			continue
		}
		for _, p := range payloads {
			o.bus.Enqueue(p.Topic, p.Payload, "discovery "+d.Address)
		}
		announced++
	}
	o.log.Debug().Int("devices", announced).Msg("discovery queued")
}

// streamLoop keeps the hub change stream open. A stream that ends is
// reopened right away; only consecutive failures to reopen it are counted
// and become fatal past StreamRetries.
func (o *Orchestrator) streamLoop(ctx context.Context, reg *registry.Registry) error {
	failures := 0
	for {
		start := time.Now()
		err := o.hub.StreamListen(ctx, func(id string) {
			o.onDeviceChanged(ctx, reg, id)
		})
		if ctx.Err() != nil {
			return nil
		}

		if reopenFailed(err) {
			failures++
			o.log.Warn().Err(err).Int("failures", failures).Msg("hub stream reconnect failed")
			if failures > o.cfg.StreamRetries {
				return faults.Fatal("hub stream reconnect failed %d times: %w", failures, err)
			}
			if err := retry.Sleep(ctx, o.cfg.StreamRetryInterval); err != nil {
				return nil
			}
			continue
		}

		failures = 0
		o.log.Debug().Err(err).Dur("lasted", time.Since(start)).Msg("hub stream ended; reconnecting")
		// a stream that dies at once is throttled like a failed reopen
		if wait := o.cfg.StreamRetryInterval - time.Since(start); wait > 0 {
			if err := retry.Sleep(ctx, wait); err != nil {
				return nil
			}
		}
	}
}

// reopenFailed separates "could not open the stream" from "the stream ran
// and ended".
func reopenFailed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, hub.ErrStreamDial) {
		return true
	}
	switch faults.Classify(err) {
	case faults.KindAuth, faults.KindFatal, faults.KindUnknown:
		return true
	}
	return false
}

func (o *Orchestrator) onDeviceChanged(ctx context.Context, reg *registry.Registry, id string) {
	d, ok := reg.ByID(id)
	if !ok {
		o.log.Debug().Str("device", id).Msg("change for unknown device")
		return
	}
	o.publishStatus(ctx, d)
}

// commandLoop forwards bus commands to the hub and republishes status.
func (o *Orchestrator) commandLoop(ctx context.Context, reg *registry.Registry) error {
	return o.bus.Subscribe(ctx, bus.CommandFilter(o.cfg.TopicPrefix), func(ctx context.Context, key string, payload []byte) {
		o.handleCommand(ctx, reg, key, payload)
	})
}

func (o *Orchestrator) handleCommand(ctx context.Context, reg *registry.Registry, address string, payload []byte) {
	log := o.log.With().Str("address", address).Logger()
	d, ok := reg.ByAddress(address)
	if !ok {
		observability.RecordCommand("unknown")
		log.Warn().Msg("command for unknown device")
		return
	}
	if _, err := o.hub.Put(ctx, d.URL, payload); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.RecordCommand("failed")
		log.Error().Err(err).Str("url", d.URL).Bytes("payload", payload).Msg("command failed")
		o.escalate(err)
		return
	}
	observability.RecordCommand("ok")
	log.Debug().Str("url", d.URL).Msg("command forwarded")
	o.publishStatus(ctx, d)
}

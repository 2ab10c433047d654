package registry

import (
	"sort"
	"strings"

	"github.com/danmuck/elanbridge/internal/bus"
	"github.com/danmuck/elanbridge/internal/hub"
	"github.com/rs/zerolog"
)

// Device joins a hub device to its bus topics.
type Device struct {
	ID           string
	Address      string
	URL          string
	StatusURL    string
	StatusTopic  string
	CommandTopic string
	Descriptor   Descriptor
}

// Label is the human name of the device, falling back to its address.
func (d *Device) Label() string {
	if d.Descriptor.Info.Label != "" {
		return d.Descriptor.Info.Label
	}
	return d.Address
}

// Registry resolves devices by hub id and by address. It is built once and
// never mutated, so concurrent reads need no locking.
type Registry struct {
	byID      map[string]*Device
	byAddress map[string]*Device
	devices   []*Device
}

// Build registers every usable record. Records without a descriptor or URL
// and duplicates are skipped with a warning; Build never fails.
func Build(records []hub.DeviceRecord, prefix string, log zerolog.Logger) *Registry {
	r := &Registry{
		byID:      make(map[string]*Device, len(records)),
		byAddress: make(map[string]*Device, len(records)),
	}
	for _, rec := range records {
		ev := log.With().Str("device", rec.ID).Str("url", rec.URL).Logger()
		if strings.TrimSpace(rec.URL) == "" {
			ev.Warn().Msg("skipping device without url")
			continue
		}
		if len(rec.Descriptor) == 0 {
			ev.Warn().Msg("skipping device without descriptor")
			continue
		}
		desc, err := ParseDescriptor(rec.Descriptor)
		if err != nil {
			ev.Warn().Err(err).Msg("skipping malformed descriptor")
			continue
		}

		id := strings.TrimSpace(rec.ID)
		if id == "" {
			id = desc.ID
		}
		if id == "" {
			ev.Warn().Msg("skipping device without id")
			continue
		}
		addr := desc.Info.Address
		if addr == "" {
			addr = id
			ev.Warn().Str("address", addr).Msg("device has no address; using hub id")
		}
		if _, dup := r.byAddress[addr]; dup {
			ev.Warn().Str("address", addr).Msg("skipping duplicate address")
			continue
		}
		if _, dup := r.byID[id]; dup {
			ev.Warn().Msg("skipping duplicate id")
			continue
		}

		url := strings.TrimRight(rec.URL, "/")
		d := &Device{
			ID:           id,
			Address:      addr,
			URL:          url,
			StatusURL:    url + "/state",
			StatusTopic:  bus.StatusTopic(prefix, addr),
			CommandTopic: bus.CommandTopic(prefix, addr),
			Descriptor:   desc,
		}
		r.byID[id] = d
		r.byAddress[addr] = d
		r.devices = append(r.devices, d)
	}
	sort.Slice(r.devices, func(i, j int) bool {
		return r.devices[i].Address < r.devices[j].Address
	})
	log.Info().Int("devices", len(r.devices)).Int("records", len(records)).Msg("device registry built")
	return r
}

// ByID resolves a device by hub id; stream notifications use this key.
func (r *Registry) ByID(id string) (*Device, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// ByAddress resolves a device by address; bus commands use this key.
func (r *Registry) ByAddress(addr string) (*Device, bool) {
	d, ok := r.byAddress[addr]
	return d, ok
}

// All returns the devices ordered by address.
func (r *Registry) All() []*Device {
	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

func (r *Registry) Len() int {
	return len(r.devices)
}

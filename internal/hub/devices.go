package hub

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/danmuck/elanbridge/internal/faults"
)

// DeviceRecord is one raw entry of the hub device list: the hub id, the
// device URL and the descriptor fetched from that URL. Descriptor is nil
// when the fetch failed.
type DeviceRecord struct {
	ID         string
	URL        string
	Descriptor json.RawMessage
}

// FetchDevices lists the hub devices and fetches each descriptor. A
// descriptor that cannot be fetched is kept with a nil Descriptor so the
// registry can report it; only a failed listing is an error.
func (c *Client) FetchDevices(ctx context.Context) ([]DeviceRecord, error) {
	var listing map[string]struct {
		URL string `json:"url"`
	}
	if err := c.GetJSON(ctx, c.cfg.DevicesPath, &listing); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(listing))
	for id := range listing {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]DeviceRecord, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := DeviceRecord{ID: id, URL: strings.TrimSpace(listing[id].URL)}
		if rec.URL == "" {
			c.log.Warn().Err(faults.Data("device %s has no url", id)).Str("device", id).Msg("device listing entry incomplete")
			records = append(records, rec)
			continue
		}
		body, err := c.Get(ctx, rec.URL)
		if err == nil {
			rec.Descriptor = body
		}
		records = append(records, rec)
	}
	c.log.Info().Int("devices", len(records)).Msg("hub device list fetched")
	return records, nil
}

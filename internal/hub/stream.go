package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/observability"
)

var ErrStreamDial = errors.New("hub: stream dial failed")

// StreamListen opens the hub change stream and calls onMessage with the
// device id of every event, in arrival order. It always ends by
// invalidating the session it used and returns a transient error; the
// caller reconnects. A cancelled ctx returns ctx.Err().
func (c *Client) StreamListen(ctx context.Context, onMessage func(id string)) error {
	if err := c.Connect(ctx, false); err != nil {
		return err
	}
	token := c.currentToken()
	defer c.invalidate(token)

	target := c.streamURL()
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	header := http.Header{}
	header.Set("Cookie", SessionCookie+"="+token)
	conn, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPClient: c.http,
		HTTPHeader: header,
	})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return faults.Transient("%w: %s: %v", ErrStreamDial, target, err)
	}
	defer func() { _ = conn.CloseNow() }()
	c.log.Debug().Str("url", target).Msg("hub stream open")

	for {
		readCtx, cancel := context.WithTimeout(ctx, c.cfg.StreamReadTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observability.RecordStreamEvent("closed")
			c.log.Debug().Err(err).Str("url", target).Msg("hub stream ended")
			return faults.Transient("stream %s: %w", target, err)
		}

		id, err := decodeStreamEvent(data)
		if err != nil {
			observability.RecordStreamEvent("dropped")
			c.log.Warn().Err(err).Str("url", target).Msg("dropping malformed stream message")
			continue
		}
		observability.RecordStreamEvent("delivered")
		onMessage(id)
	}
}

func (c *Client) streamURL() string {
	u := c.resolve(c.cfg.StreamPath)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// decodeStreamEvent extracts the device id of {"device": <id>, ...}. The
// hub sends ids as strings; numbers are accepted as well.
func decodeStreamEvent(data []byte) (string, error) {
	var event struct {
		Device json.RawMessage `json:"device"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return "", faults.Protocol("decode stream event: %w", err)
	}
	raw := bytes.TrimSpace(event.Device)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", faults.Protocol("stream event has no device field")
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return "", faults.Protocol("stream event has empty device id")
		}
		return id, nil
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&num); err == nil {
		if _, err := strconv.ParseFloat(num.String(), 64); err == nil {
			return num.String(), nil
		}
	}
	return "", faults.Protocol("unsupported device id %s", raw)
}

package registry

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/danmuck/elanbridge/internal/faults"
)

// Info is the "device info" block of a hub descriptor.
type Info struct {
	Address     string
	Type        string
	ProductType string
	Label       string
}

// Action describes one entry of "actions info".
type Action struct {
	Type string   `json:"type"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`
}

// Descriptor is the parsed hub device document.
type Descriptor struct {
	ID             string
	Info           Info
	PrimaryActions []string
	Actions        map[string]Action
}

// HasPrimary reports whether action is one of the primary actions.
func (d Descriptor) HasPrimary(action string) bool {
	for _, a := range d.PrimaryActions {
		if a == action {
			return true
		}
	}
	return false
}

type rawDescriptor struct {
	ID   json.RawMessage `json:"id"`
	Info *struct {
		Address     json.RawMessage `json:"address"`
		Type        string          `json:"type"`
		ProductType string          `json:"product type"`
		Label       string          `json:"label"`
	} `json:"device info"`
	PrimaryActions []string          `json:"primary actions"`
	ActionsInfo    map[string]Action `json:"actions info"`
}

// ParseDescriptor decodes a hub descriptor. A missing "device info" block
// is a data error; a missing address is left empty for the caller to
// resolve.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var raw rawDescriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, faults.Data("decode descriptor: %w", err)
	}
	if raw.Info == nil {
		return Descriptor{}, faults.Data("descriptor has no device info")
	}
	id, err := scalar(raw.ID)
	if err != nil {
		return Descriptor{}, faults.Data("descriptor id: %w", err)
	}
	addr, err := scalar(raw.Info.Address)
	if err != nil {
		return Descriptor{}, faults.Data("descriptor address: %w", err)
	}
	d := Descriptor{
		ID: id,
		Info: Info{
			Address:     addr,
			Type:        strings.TrimSpace(raw.Info.Type),
			ProductType: strings.TrimSpace(raw.Info.ProductType),
			Label:       strings.TrimSpace(raw.Info.Label),
		},
		PrimaryActions: raw.PrimaryActions,
		Actions:        raw.ActionsInfo,
	}
	if d.Info.ProductType == "" {
		d.Info.ProductType = "---"
	}
	return d, nil
}

// scalar renders a JSON string or number as a string; absent or null
// values give "".
func scalar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", err
	}
	return n.String(), nil
}

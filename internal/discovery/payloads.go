package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/elanbridge/internal/registry"
)

const manufacturer = "Elko EP"

// Announcement is one discovery config message.
type Announcement struct {
	Topic   string
	Payload []byte
}

type deviceBlock struct {
	Name         string     `json:"name"`
	Identifiers  []string   `json:"identifiers"`
	Connections  [][]string `json:"connections,omitempty"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
}

// entity holds the union of the fields the announced components use.
type entity struct {
	Name                string      `json:"name"`
	UniqueID            string      `json:"unique_id"`
	Schema              string      `json:"schema,omitempty"`
	Device              deviceBlock `json:"device"`
	DeviceClass         string      `json:"device_class,omitempty"`
	Icon                string      `json:"icon,omitempty"`
	StateTopic          string      `json:"state_topic"`
	CommandTopic        string      `json:"command_topic,omitempty"`
	JSONAttributesTopic string      `json:"json_attributes_topic,omitempty"`
	PayloadOn           string      `json:"payload_on,omitempty"`
	PayloadOff          string      `json:"payload_off,omitempty"`
	StateOn             string      `json:"state_on,omitempty"`
	StateOff            string      `json:"state_off,omitempty"`
	ValueTemplate       string      `json:"value_template,omitempty"`
	StateValueTemplate  string      `json:"state_value_template,omitempty"`
	StateTemplate       string      `json:"state_template,omitempty"`
	CommandOnTemplate   string      `json:"command_on_template,omitempty"`
	CommandOffTemplate  string      `json:"command_off_template,omitempty"`
	BrightnessTemplate  string      `json:"brightness_template,omitempty"`
	UnitOfMeasurement   string      `json:"unit_of_measurement,omitempty"`
}

// Payloads builds the discovery announcements for d under prefix. Unknown
// kinds yield none.
func Payloads(prefix string, d *registry.Device) ([]Announcement, error) {
	b := builder{prefix: prefix, d: d, kind: Classify(d.Descriptor)}
	switch b.kind {
	case KindLight:
		b.light()
	case KindDimmer:
		b.dimmer()
	case KindSwitch:
		b.switchEntity()
	case KindThermometer, KindThermostat:
		b.temperatures()
	case KindRegulator:
		b.regulator()
	case KindDetector:
		b.detector()
	case KindAlarm:
		b.detector()
		b.alarm()
	}
	return b.out, b.err
}

type builder struct {
	prefix string
	d      *registry.Device
	kind   Kind
	out    []Announcement
	err    error
}

func (b *builder) base(suffix string) entity {
	id := "eLan-" + b.d.Address
	name := b.d.Label()
	if suffix != "" {
		id += "-" + suffix
		name += "-" + suffix
	}
	group := b.kind
	if group == KindAlarm {
		group = KindDetector
	}
	return entity{
		Name:     name,
		UniqueID: id,
		Device: deviceBlock{
			Name:         b.d.Label(),
			Identifiers:  []string{fmt.Sprintf("eLan-%s-%s", group, b.d.Address)},
			Connections:  [][]string{{"mac", b.d.Address}},
			Manufacturer: manufacturer,
			Model:        b.d.Descriptor.Info.ProductType,
		},
		StateTopic: b.d.StatusTopic,
	}
}

func (b *builder) add(component, suffix string, e entity) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		b.err = fmt.Errorf("discovery %s: %w", e.UniqueID, err)
		return
	}
	parts := []string{b.prefix, component, b.d.Address}
	if suffix != "" {
		parts = append(parts, suffix)
	}
	parts = append(parts, "config")
	b.out = append(b.out, Announcement{Topic: strings.Join(parts, "/"), Payload: data})
}

func (b *builder) light() {
	if !b.d.Descriptor.HasPrimary("on") {
		return
	}
	e := b.base("")
	e.Schema = "basic"
	e.CommandTopic = b.d.CommandTopic
	e.JSONAttributesTopic = b.d.StatusTopic
	e.PayloadOn = `{"on":true}`
	e.PayloadOff = `{"on":false}`
	e.StateValueTemplate = `{%- if value_json.on -%}{"on":true}{%- else -%}{"on":false}{%- endif -%}`
	b.add("light", "", e)
}

func (b *builder) dimmer() {
	top := 100.0
	if a, ok := b.d.Descriptor.Actions["brightness"]; ok && a.Max != nil && *a.Max > 0 {
		top = *a.Max
	}
	scale := formatNumber(top)
	e := b.base("")
	e.Schema = "template"
	e.CommandTopic = b.d.CommandTopic
	e.CommandOnTemplate = `{%- if brightness is defined -%} {"brightness": {{ (brightness * ` + scale +
		` / 255 ) | int }} } {%- else -%} {"brightness": ` + scale + ` } {%- endif -%}`
	e.CommandOffTemplate = `{"brightness": 0 }`
	e.StateTemplate = `{%- if value_json.brightness > 0 -%}on{%- else -%}off{%- endif -%}`
	e.BrightnessTemplate = `{{ (value_json.brightness * 255 / ` + scale + `) | int }}`
	b.add("light", "", e)
}

func (b *builder) switchEntity() {
	if !b.d.Descriptor.HasPrimary("on") {
		return
	}
	e := b.base("")
	e.CommandTopic = b.d.CommandTopic
	e.JSONAttributesTopic = b.d.StatusTopic
	e.PayloadOn = `{"on":true}`
	e.PayloadOff = `{"on":false}`
	e.StateOn = "on"
	e.StateOff = "off"
	e.ValueTemplate = `{%- if value_json.on -%}on{%- else -%}off{%- endif -%}`
	b.add("switch", "", e)
}

func (b *builder) temperatures() {
	for _, probe := range []string{"IN", "OUT"} {
		e := b.base(probe)
		e.DeviceClass = "temperature"
		e.JSONAttributesTopic = b.d.StatusTopic
		e.ValueTemplate = `{{ value_json["temperature ` + probe + `"] }}`
		e.UnitOfMeasurement = "°C"
		b.add("sensor", probe, e)
	}
}

func (b *builder) regulator() {
	e := b.base("regulator")
	e.DeviceClass = "temperature"
	e.JSONAttributesTopic = b.d.StatusTopic
	e.ValueTemplate = `{{ value_json["temperature"] }}`
	e.UnitOfMeasurement = "°C"
	b.add("sensor", "regulator", e)
}

func (b *builder) detector() {
	e := b.base("")
	e.JSONAttributesTopic = b.d.StatusTopic
	e.Icon = detectorIcon(b.d.Descriptor)
	e.ValueTemplate = `{%- if value_json.detect -%}on{%- else -%}off{%- endif -%}`
	b.add("sensor", "", e)

	battery := b.base("battery")
	battery.DeviceClass = "battery"
	battery.UnitOfMeasurement = "%"
	battery.ValueTemplate = `{%- if value_json.battery -%}100{%- else -%}0{%- endif -%}`
	b.add("sensor", "battery", battery)
}

type flagSensor struct {
	name, icon, template string
}

// alarm adds the alarm flag sensor; RFWD-100 also reports tamper, automat
// and disarm.
func (b *builder) alarm() {
	flags := []flagSensor{
		{"alarm", "mdi:alarm-light", `{%- if value_json.alarm -%}on{%- else -%}off{%- endif -%}`},
	}
	if b.d.Descriptor.Info.ProductType == "RFWD-100" {
		flags = append(flags,
			flagSensor{"tamper", "mdi:gesture-tap", `{%- if value_json.tamper == "opened" -%}on{%- else -%}off{%- endif -%}`},
			flagSensor{"automat", "mdi:arrow-decision-auto", `{%- if value_json.automat -%}on{%- else -%}off{%- endif -%}`},
			flagSensor{"disarm", "mdi:lock-alert", `{%- if value_json.disarm -%}on{%- else -%}off{%- endif -%}`},
		)
	}
	for _, f := range flags {
		e := b.base(f.name)
		e.Icon = f.icon
		e.JSONAttributesTopic = b.d.StatusTopic
		e.ValueTemplate = f.template
		b.add("sensor", f.name, e)
	}
}

func detectorIcon(d registry.Descriptor) string {
	typ := strings.ToLower(d.Info.Type)
	product := d.Info.ProductType
	switch {
	case strings.Contains(typ, "flood") || strings.HasPrefix(product, "RFSF-"):
		return "mdi:waves"
	case strings.Contains(typ, "motion") || strings.HasPrefix(product, "RFMD-"):
		return "mdi:motion-sensor"
	case strings.Contains(typ, "smoke") || strings.HasPrefix(product, "RFSD-"):
		return "mdi:smoke-detector"
	case strings.Contains(typ, "window") || strings.HasPrefix(product, "RFWD-"):
		if strings.Contains(strings.ToLower(d.Info.Label), "door") {
			return "mdi:door-open"
		}
		return "mdi:window-open"
	}
	return ""
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// Package discovery maps hub device descriptors to Home Assistant MQTT
// discovery announcements. It is pure: no I/O, no shared state.
package discovery

import (
	"strings"

	"github.com/danmuck/elanbridge/internal/registry"
)

// Kind is the control surface a device is announced as.
type Kind string

const (
	KindLight       Kind = "light"
	KindDimmer      Kind = "dimmer"
	KindSwitch      Kind = "switch"
	KindThermometer Kind = "thermometer"
	KindThermostat  Kind = "thermostat"
	KindRegulator   Kind = "regulator"
	KindDetector    Kind = "detector"
	KindAlarm       Kind = "alarm"
	KindUnknown     Kind = "unknown"
)

var switchProducts = map[string]bool{
	"RFSA-61M": true,
	"RFSA-66M": true,
	"RFSA-11B": true,
	"RFUS-61":  true,
	"RFSA-62B": true,
}

var detectorProductPrefixes = []string{"RFWD-", "RFSD-", "RFMD-", "RFSF-"}

// Classify picks the kind from the product type first and the user-set
// device type second. Brightness control always wins. RFWD-100 and RFSF-1B
// are checked before the generic detector prefixes so their alarm flags
// get announced alongside the detector entities.
func Classify(d registry.Descriptor) Kind {
	typ := strings.ToLower(d.Info.Type)
	product := d.Info.ProductType

	switch {
	case product == "RFDA-11B" || d.HasPrimary("brightness"):
		return KindDimmer
	case typ == "light" || typ == "lamp":
		return KindLight
	case switchProducts[product] || typ == "appliance":
		return KindSwitch
	case product == "RFTI-10B" || typ == "thermometer":
		return KindThermometer
	case product == "RFSTI-11G" || typ == "heating":
		return KindThermostat
	case product == "RFATV-1" || typ == "temperature regulation area":
		return KindRegulator
	case product == "RFWD-100" || product == "RFSF-1B":
		return KindAlarm
	case typ == "detector" || containsAny(product, detectorProductPrefixes):
		return KindDetector
	}
	return KindUnknown
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

package bus

import (
	"strings"

	"github.com/danmuck/elanbridge/internal/faults"
)

func StatusTopic(prefix, address string) string {
	return prefix + "/" + address + "/status"
}

func CommandTopic(prefix, address string) string {
	return prefix + "/" + address + "/command"
}

// CommandFilter matches the command topic of every device.
func CommandFilter(prefix string) string {
	return prefix + "/+/command"
}

// AvailabilityTopic carries the retained online/offline bridge state.
func AvailabilityTopic(prefix string) string {
	return prefix + "/bridge/status"
}

// DeviceKey returns the middle segment of a three-segment topic.
func DeviceKey(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return "", faults.Protocol("topic %q is not prefix/<key>/<kind>", topic)
	}
	key := strings.TrimSpace(parts[1])
	if key == "" || key == "+" || key == "#" {
		return "", faults.Protocol("topic %q has no device key", topic)
	}
	return key, nil
}

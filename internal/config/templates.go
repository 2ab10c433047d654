package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns the example configuration in the given format.
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `[hub]
url = "http://elan.local"
username = "admin"
# password = ""  # or ELANBRIDGE_HUB_PASSWORD
devices_path = "/api/devices"
stream_path = "/api/ws"
request_timeout = "10s"
login_attempts = 3
# login_wait_timeout = "31s"  # defaults to the full login retry budget
stream_read_timeout = "30s"

[bus]
url = "tcp://localhost:1883"
client_id = "elanbridge"
topic_prefix = "eLan"
discovery_prefix = "homeassistant"
qos = 0
connect_timeout = "5s"
publish_timeout = "5s"
publish_attempts = 3
backoff_initial = "250ms"
backoff_max = "30s"
# with an ssl:// or mqtts:// url:
# ca_file = "/etc/elanbridge/ca.crt"
# cert_file = "/etc/elanbridge/client.crt"
# key_file = "/etc/elanbridge/client.key"

[bridge]
status_interval = "60s"
discovery_interval = "10m"
stream_retry_interval = "1s"
stream_retries = 5
disable_autodiscovery = false
restart_cooldown = "10s"

[admin]
listen = "127.0.0.1:9380"
cors_origins = ["http://localhost:8123"]
# token = ""  # or ELANBRIDGE_ADMIN_TOKEN
`

const yamlTemplate = `hub:
  url: http://elan.local
  username: admin
  # password: ""  # or ELANBRIDGE_HUB_PASSWORD
  devices_path: /api/devices
  stream_path: /api/ws
  request_timeout: 10s
  login_attempts: 3
  # login_wait_timeout: 31s  # defaults to the full login retry budget
  stream_read_timeout: 30s

bus:
  url: tcp://localhost:1883
  client_id: elanbridge
  topic_prefix: eLan
  discovery_prefix: homeassistant
  qos: 0
  connect_timeout: 5s
  publish_timeout: 5s
  publish_attempts: 3
  backoff_initial: 250ms
  backoff_max: 30s
  # with an ssl:// or mqtts:// url:
  # ca_file: /etc/elanbridge/ca.crt
  # cert_file: /etc/elanbridge/client.crt
  # key_file: /etc/elanbridge/client.key

bridge:
  status_interval: 60s
  discovery_interval: 10m
  stream_retry_interval: 1s
  stream_retries: 5
  disable_autodiscovery: false
  restart_cooldown: 10s

admin:
  listen: 127.0.0.1:9380
  cors_origins:
    - http://localhost:8123
  # token: ""  # or ELANBRIDGE_ADMIN_TOKEN
`

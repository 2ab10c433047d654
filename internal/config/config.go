package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// File is the on-disk bridge configuration.
type File struct {
	Hub    HubSection    `toml:"hub" yaml:"hub"`
	Bus    BusSection    `toml:"bus" yaml:"bus"`
	Bridge BridgeSection `toml:"bridge" yaml:"bridge"`
	Admin  AdminSection  `toml:"admin" yaml:"admin"`
}

type HubSection struct {
	URL               string   `toml:"url" yaml:"url"`
	Username          string   `toml:"username" yaml:"username"`
	Password          string   `toml:"password" yaml:"password"`
	DevicesPath       string   `toml:"devices_path" yaml:"devices_path"`
	StreamPath        string   `toml:"stream_path" yaml:"stream_path"`
	RequestTimeout    Duration `toml:"request_timeout" yaml:"request_timeout"`
	LoginAttempts     int      `toml:"login_attempts" yaml:"login_attempts"`
	LoginWaitTimeout  Duration `toml:"login_wait_timeout" yaml:"login_wait_timeout"`
	StreamReadTimeout Duration `toml:"stream_read_timeout" yaml:"stream_read_timeout"`
}

type BusSection struct {
	URL             string   `toml:"url" yaml:"url"`
	Username        string   `toml:"username" yaml:"username"`
	Password        string   `toml:"password" yaml:"password"`
	ClientID        string   `toml:"client_id" yaml:"client_id"`
	TopicPrefix     string   `toml:"topic_prefix" yaml:"topic_prefix"`
	DiscoveryPrefix string   `toml:"discovery_prefix" yaml:"discovery_prefix"`
	QoS             int      `toml:"qos" yaml:"qos"`
	ConnectTimeout  Duration `toml:"connect_timeout" yaml:"connect_timeout"`
	PublishTimeout  Duration `toml:"publish_timeout" yaml:"publish_timeout"`
	PublishAttempts int      `toml:"publish_attempts" yaml:"publish_attempts"`
	BackoffInitial  Duration `toml:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax      Duration `toml:"backoff_max" yaml:"backoff_max"`

	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type BridgeSection struct {
	StatusInterval       Duration `toml:"status_interval" yaml:"status_interval"`
	DiscoveryInterval    Duration `toml:"discovery_interval" yaml:"discovery_interval"`
	StreamRetryInterval  Duration `toml:"stream_retry_interval" yaml:"stream_retry_interval"`
	StreamRetries        int      `toml:"stream_retries" yaml:"stream_retries"`
	DisableAutodiscovery bool     `toml:"disable_autodiscovery" yaml:"disable_autodiscovery"`
	RestartCooldown      Duration `toml:"restart_cooldown" yaml:"restart_cooldown"`
}

type AdminSection struct {
	Listen      string   `toml:"listen" yaml:"listen"`
	Token       string   `toml:"token" yaml:"token"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

// Defaults returns a File with every optional key filled in.
func Defaults() File {
	return File{
		Hub: HubSection{
			DevicesPath:       "/api/devices",
			StreamPath:        "/api/ws",
			RequestTimeout:    Duration(10 * time.Second),
			LoginAttempts:     3,
			StreamReadTimeout: Duration(30 * time.Second),
		},
		Bus: BusSection{
			URL:             "tcp://localhost:1883",
			ClientID:        "elanbridge",
			TopicPrefix:     "eLan",
			DiscoveryPrefix: "homeassistant",
			ConnectTimeout:  Duration(5 * time.Second),
			PublishTimeout:  Duration(5 * time.Second),
			PublishAttempts: 3,
			BackoffInitial:  Duration(250 * time.Millisecond),
			BackoffMax:      Duration(30 * time.Second),
		},
		Bridge: BridgeSection{
			StatusInterval:      Duration(60 * time.Second),
			DiscoveryInterval:   Duration(10 * time.Minute),
			StreamRetryInterval: Duration(time.Second),
			StreamRetries:       5,
			RestartCooldown:     Duration(10 * time.Second),
		},
	}
}

// Load reads path over Defaults, applies env overrides and validates.
// Unknown TOML keys are returned as warnings rather than errors.
func Load(path string) (File, []string, error) {
	cfg := Defaults()
	var warnings []string

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return File{}, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		for _, key := range meta.Undecoded() {
			warnings = append(warnings, fmt.Sprintf("unknown key %q", key.String()))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return File{}, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return File{}, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	ApplyEnv(&cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return File{}, warnings, err
	}
	return cfg, warnings, nil
}

func Validate(cfg File) error {
	if strings.TrimSpace(cfg.Hub.URL) == "" {
		return fmt.Errorf("hub config missing url")
	}
	if !strings.HasPrefix(cfg.Hub.URL, "http://") && !strings.HasPrefix(cfg.Hub.URL, "https://") {
		return fmt.Errorf("hub url must be http(s): %q", cfg.Hub.URL)
	}
	if strings.TrimSpace(cfg.Hub.Username) == "" {
		return fmt.Errorf("hub config missing username")
	}
	if cfg.Hub.LoginAttempts < 0 {
		return fmt.Errorf("hub login_attempts must not be negative")
	}
	if cfg.Hub.LoginWaitTimeout < 0 {
		return fmt.Errorf("hub login_wait_timeout must not be negative")
	}
	if strings.TrimSpace(cfg.Bus.URL) == "" {
		return fmt.Errorf("bus config missing url")
	}
	if strings.TrimSpace(cfg.Bus.TopicPrefix) == "" || strings.Contains(cfg.Bus.TopicPrefix, "/") {
		return fmt.Errorf("bus topic_prefix must be a single topic level: %q", cfg.Bus.TopicPrefix)
	}
	if cfg.Bus.QoS < 0 || cfg.Bus.QoS > 2 {
		return fmt.Errorf("bus qos must be 0, 1 or 2: %d", cfg.Bus.QoS)
	}
	if err := busTLS(cfg.Bus).Validate(cfg.Bus.URL); err != nil {
		return err
	}
	if cfg.Bus.PublishAttempts < 0 {
		return fmt.Errorf("bus publish_attempts must not be negative")
	}
	if cfg.Bridge.StatusInterval <= 0 {
		return fmt.Errorf("bridge status_interval must be positive")
	}
	if cfg.Bridge.StreamRetries < 0 {
		return fmt.Errorf("bridge stream_retries must not be negative")
	}
	if cfg.Bridge.RestartCooldown < 0 {
		return fmt.Errorf("bridge restart_cooldown must not be negative")
	}
	return nil
}

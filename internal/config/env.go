package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvHubURL      = "ELANBRIDGE_HUB_URL"
	EnvHubUsername = "ELANBRIDGE_HUB_USERNAME"
	EnvHubPassword = "ELANBRIDGE_HUB_PASSWORD"
	EnvBusURL      = "ELANBRIDGE_BUS_URL"
	EnvBusUsername = "ELANBRIDGE_BUS_USERNAME"
	EnvBusPassword = "ELANBRIDGE_BUS_PASSWORD"
	EnvAdminToken  = "ELANBRIDGE_ADMIN_TOKEN"
)

// LoadEnv loads dotenv files into the process env. Missing files are
// skipped and variables already set are never overridden.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secrets and endpoints from the environment.
func ApplyEnv(cfg *File, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Hub.URL, EnvHubURL)
	set(&cfg.Hub.Username, EnvHubUsername)
	set(&cfg.Hub.Password, EnvHubPassword)
	set(&cfg.Bus.URL, EnvBusURL)
	set(&cfg.Bus.Username, EnvBusUsername)
	set(&cfg.Bus.Password, EnvBusPassword)
	set(&cfg.Admin.Token, EnvAdminToken)
}

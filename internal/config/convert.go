package config

import (
	"github.com/danmuck/elanbridge/internal/bridge"
	"github.com/danmuck/elanbridge/internal/bus"
	"github.com/danmuck/elanbridge/internal/retry"
)

// ServiceConfig maps a validated File onto the runtime configuration.
func (f File) ServiceConfig() bridge.ServiceConfig {
	out := bridge.DefaultServiceConfig()

	out.Hub.BaseURL = f.Hub.URL
	out.Hub.Username = f.Hub.Username
	out.Hub.Password = f.Hub.Password
	out.Hub.DevicesPath = f.Hub.DevicesPath
	out.Hub.StreamPath = f.Hub.StreamPath
	out.Hub.RequestTimeout = f.Hub.RequestTimeout.Std()
	out.Hub.LoginAttempts = f.Hub.LoginAttempts
	out.Hub.LoginWaitTimeout = f.Hub.LoginWaitTimeout.Std()
	out.Hub.StreamReadTimeout = f.Hub.StreamReadTimeout.Std()

	out.Bus.URL = f.Bus.URL
	out.Bus.Username = f.Bus.Username
	out.Bus.Password = f.Bus.Password
	out.Bus.ClientID = f.Bus.ClientID
	out.Bus.TopicPrefix = f.Bus.TopicPrefix
	out.Bus.QoS = byte(f.Bus.QoS)
	out.Bus.ConnectTimeout = f.Bus.ConnectTimeout.Std()
	out.Bus.PublishTimeout = f.Bus.PublishTimeout.Std()
	out.Bus.PublishAttempts = f.Bus.PublishAttempts
	out.Bus.TLS = busTLS(f.Bus)
	if f.Bus.BackoffInitial > 0 || f.Bus.BackoffMax > 0 {
		out.Bus.Backoff = retry.BackoffConfig{
			InitialDelay: f.Bus.BackoffInitial.Std(),
			Multiplier:   2.0,
			MaxDelay:     f.Bus.BackoffMax.Std(),
			Jitter:       true,
		}
	}

	out.Bridge.TopicPrefix = f.Bus.TopicPrefix
	out.Bridge.DiscoveryPrefix = f.Bus.DiscoveryPrefix
	out.Bridge.StatusInterval = f.Bridge.StatusInterval.Std()
	out.Bridge.DiscoveryInterval = f.Bridge.DiscoveryInterval.Std()
	out.Bridge.StreamRetryInterval = f.Bridge.StreamRetryInterval.Std()
	out.Bridge.StreamRetries = f.Bridge.StreamRetries
	out.Bridge.DisableAutodiscovery = f.Bridge.DisableAutodiscovery

	out.RestartCooldown = f.Bridge.RestartCooldown.Std()
	out.AdminListen = f.Admin.Listen
	out.AdminToken = f.Admin.Token
	out.AdminOrigins = f.Admin.CORSOrigins
	return out
}

func busTLS(b BusSection) bus.TLSConfig {
	return bus.TLSConfig{
		CAFile:             b.CAFile,
		CertFile:           b.CertFile,
		KeyFile:            b.KeyFile,
		InsecureSkipVerify: b.InsecureSkipVerify,
	}
}

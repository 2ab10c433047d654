package bus

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

var (
	ErrTLSCertFileRequired = errors.New("bus: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("bus: tls key file required")
	ErrTLSCAInvalid        = errors.New("bus: tls ca file has no certificates")
	ErrTLSNotEnabled       = errors.New("bus: tls files set for a plain broker url")
)

// TLSConfig configures broker TLS. An empty CAFile trusts the system pool;
// CertFile and KeyFile enable client certificates and must be set together.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

func (t TLSConfig) empty() bool {
	return strings.TrimSpace(t.CAFile) == "" &&
		strings.TrimSpace(t.CertFile) == "" &&
		strings.TrimSpace(t.KeyFile) == "" &&
		!t.InsecureSkipVerify
}

// Validate checks the file combination without reading anything.
func (t TLSConfig) Validate(brokerURL string) error {
	if !useTLS(brokerURL) {
		if t.empty() {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTLSNotEnabled, brokerURL)
	}
	hasCert := strings.TrimSpace(t.CertFile) != ""
	hasKey := strings.TrimSpace(t.KeyFile) != ""
	if hasKey && !hasCert {
		return ErrTLSCertFileRequired
	}
	if hasCert && !hasKey {
		return ErrTLSKeyFileRequired
	}
	return nil
}

// Build loads the configured files into a tls.Config.
func (t TLSConfig) Build() (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
	if ca := strings.TrimSpace(t.CAFile); ca != "" {
		pem, err := os.ReadFile(ca)
		if err != nil {
			return nil, fmt.Errorf("bus: read tls ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s", ErrTLSCAInvalid, ca)
		}
		out.RootCAs = pool
	}
	if strings.TrimSpace(t.CertFile) != "" {
		pair, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("bus: load tls client cert: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}

func useTLS(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "ssl", "tls", "mqtts", "tcps", "wss":
		return true
	}
	return false
}

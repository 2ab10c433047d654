// Package auth provides the hub login credentials and the admin token check.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Credentials is the hub login form. Key is never the clear password.
type Credentials struct {
	Name string
	Key  string
}

// NewCredentials hashes password the way the hub expects it: lowercase hex
// of its SHA-1 digest.
func NewCredentials(name, password string) Credentials {
	sum := sha1.Sum([]byte(password))
	return Credentials{Name: name, Key: hex.EncodeToString(sum[:])}
}

// Form encodes the credentials as the login request body.
func (c Credentials) Form() url.Values {
	v := url.Values{}
	v.Set("name", c.Name)
	v.Set("key", c.Key)
	return v
}

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts a single shared token. An empty configured token
// rejects everything; callers decide whether an empty config means "open".
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

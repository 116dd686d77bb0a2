// Package credentials resolves the secrets nbassist sends to the notebook
// API. Values come from the environment first and the system keyring second.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "nbassist"

// Names of the secrets. Each name is both the environment variable and the
// keyring entry.
const (
	TokenName       = "NBASSIST_TOKEN"
	ProviderKeyName = "PROVIDER_API_KEY"
)

// ErrNotFound indicates that a secret is neither set nor stored.
var ErrNotFound = errors.New("secret not found")

// ErrUnavailable marks a keyring that could not be read while resolving a
// request token. Callers may proceed unauthenticated.
var ErrUnavailable = errors.New("keyring unavailable")

// Source is where a secret value was found.
type Source string

const (
	SourceNone    Source = ""
	SourceEnv     Source = "environment"
	SourceKeyring Source = "keyring"
)

// Secret is one named credential.
type Secret struct {
	Name string
}

var (
	// APIToken is the bearer token for the notebook API.
	APIToken = Secret{Name: TokenName}
	// ProviderKey is an optional model provider key forwarded to the agent.
	ProviderKey = Secret{Name: ProviderKeyName}
)

// Lookup returns the secret and where it came from. A missing secret is
// ErrNotFound.
func (s Secret) Lookup() (string, Source, error) {
	if v := strings.TrimSpace(os.Getenv(s.Name)); v != "" {
		return v, SourceEnv, nil
	}
	v, err := s.stored()
	if err != nil {
		return "", SourceNone, err
	}
	return v, SourceKeyring, nil
}

// Value is Lookup without the source. Absent secrets yield "".
func (s Secret) Value() (string, error) {
	v, _, err := s.Lookup()
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Stored reports whether the keyring holds the secret, ignoring the
// environment.
func (s Secret) Stored() (bool, error) {
	_, err := s.stored()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Store writes value to the keyring.
func (s Secret) Store(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("secret %q cannot be empty", s.Name)
	}
	if err := keyring.Set(serviceName, s.Name, value); err != nil {
		return fmt.Errorf("store secret %q: %w", s.Name, err)
	}
	return nil
}

// Remove deletes the secret from the keyring.
func (s Secret) Remove() error {
	if err := keyring.Delete(serviceName, s.Name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete secret %q: %w", s.Name, err)
	}
	return nil
}

func (s Secret) stored() (string, error) {
	v, err := keyring.Get(serviceName, s.Name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read secret %q: %w", s.Name, err)
	}
	return strings.TrimSpace(v), nil
}

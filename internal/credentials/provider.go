package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider supplies the bearer token attached to outgoing requests. An empty
// token with a nil error means "send the request unauthenticated".
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static always returns the same token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Token makes a Secret a Provider. It is read on every call so a login in
// another terminal takes effect without a restart. A keyring read failure
// yields an empty token wrapped in ErrUnavailable.
func (s Secret) Token(context.Context) (string, error) {
	v, err := s.Value()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v, nil
}

// Chain returns the first non-empty token from its providers. Providers that
// report ErrUnavailable are skipped; if nothing else yields a token the first
// such error is returned.
type Chain []Provider

func (c Chain) Token(ctx context.Context) (string, error) {
	var unavailable error
	for _, p := range c {
		if p == nil {
			continue
		}
		token, err := p.Token(ctx)
		if errors.Is(err, ErrUnavailable) {
			if unavailable == nil {
				unavailable = err
			}
			continue
		}
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	return "", unavailable
}

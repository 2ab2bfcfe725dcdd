// Package secrets provides just-in-time secret resolution with redaction.
// Credentials used by the pipeline (registry tokens, object-store keys) are
// carried as Value so they never leak through logs or formatted output.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrSecretNotFound is returned when a referenced secret cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Redacted is the placeholder emitted wherever a Value is formatted.
const Redacted = "[REDACTED]"

// Value holds a secret string that redacts itself when printed.
// Use Reveal to obtain the raw value at the point of use.
type Value struct {
	raw string
}

// NewValue wraps a raw secret string.
func NewValue(raw string) Value {
	return Value{raw: raw}
}

// Reveal returns the raw secret value.
func (v Value) Reveal() string {
	return v.raw
}

// IsZero reports whether the value is empty.
func (v Value) IsZero() bool {
	return v.raw == ""
}

// String implements fmt.Stringer and always redacts.
func (v Value) String() string {
	if v.raw == "" {
		return ""
	}
	return Redacted
}

// Format implements fmt.Formatter so %v, %s, %q and %#v all redact.
func (v Value) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, v.String())
}

// MarshalText redacts the value in any text serialization.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText accepts a raw secret from configuration decoding.
func (v *Value) UnmarshalText(data []byte) error {
	v.raw = string(data)
	return nil
}

// Ref identifies a secret to resolve, e.g. an environment variable name.
type Ref struct {
	// Key identifies the secret location within the resolver.
	Key string
}

// Resolver resolves secret references to values.
type Resolver interface {
	// Resolve returns the secret for ref or ErrSecretNotFound.
	Resolve(ctx context.Context, ref Ref) (Value, error)
}

// EnvResolver resolves secrets from process environment variables.
type EnvResolver struct{}

// Resolve implements Resolver. An unset or empty variable is a missing secret.
func (EnvResolver) Resolve(_ context.Context, ref Ref) (Value, error) {
	raw := os.Getenv(ref.Key)
	if raw == "" {
		return Value{}, fmt.Errorf("env %q: %w", ref.Key, ErrSecretNotFound)
	}
	return NewValue(raw), nil
}

// StaticResolver resolves secrets from an in-memory map. Intended for tests.
type StaticResolver struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticResolver creates a resolver with the given initial values.
func NewStaticResolver(values map[string]string) *StaticResolver {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticResolver{values: copied}
}

// Set stores a secret under key.
func (r *StaticResolver) Set(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = make(map[string]string)
	}
	r.values[key] = value
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, ref Ref) (Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, ok := r.values[ref.Key]
	if !ok || raw == "" {
		return Value{}, fmt.Errorf("static %q: %w", ref.Key, ErrSecretNotFound)
	}
	return NewValue(raw), nil
}

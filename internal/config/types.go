package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// redacted replaces secret values in every serialized form.
const redacted = "[REDACTED]"

// Duration is a time.Duration that unmarshals from strings like "90s" or
// "2m", which is how timeouts are written in coco.yaml and COCO_ env vars.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler. Negative timeouts are
// rejected here so validation never sees them.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a value that must never reach logs, state files, or API
// responses verbatim. Every marshal and format path emits a placeholder;
// only Value returns the real string.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v stays safe too.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// Value returns the real secret for the one call site that needs it.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal(redacted)
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(""), nil
	}
	return []byte(redacted), nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return redacted, nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Inbound values arrive raw.
func (s *Secret) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Inbound values arrive raw.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Inbound values arrive raw.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

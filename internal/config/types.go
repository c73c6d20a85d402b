package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a non-negative time.Duration read from text such as "30s"
// (pipeline.lock_timeout, telemetry.shutdown_timeout, BROKER_* env values).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
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

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const redacted = "[REDACTED]"

// Secret holds a database password. It prints and marshals as [REDACTED];
// only Value returns the text the database writer needs.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v output, including test failure diffs, redacted.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// Value returns the plain password for the tool command line.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a password is recorded.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON renders the password as [REDACTED] in `broker status --json`.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalText accepts the raw password from config or env.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

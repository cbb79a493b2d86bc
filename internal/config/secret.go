package config

import "log/slog"

// maskedValue replaces secret material in any textual rendering.
const maskedValue = "***"

// Secret is a string that masks itself in logs and formatted output while
// still round-tripping as a raw string through the JSON config file.
type Secret string

// Value returns the raw secret string.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool { return s != "" }

// String implements fmt.Stringer and always masks.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return maskedValue
}

// GoString masks secrets in %#v output.
func (s Secret) GoString() string { return "config.Secret(" + s.String() + ")" }

// LogValue implements slog.LogValuer so secrets never reach log sinks.
func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

package types

import "log/slog"

const redacted = "***REDACTED***"

// SecretString holds a sensitive value (API key, database URL) and masks it
// in every accidental output path: fmt verbs, JSON marshaling, and slog
// attributes all see the redacted placeholder. Call Unmask where the raw
// value is genuinely required, such as a driver connection string or an
// Authorization header.
type SecretString string

func (s SecretString) String() string { return redacted }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// LogValue masks the secret in structured log output.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}

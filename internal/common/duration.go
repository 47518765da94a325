package common

import (
	"time"

	"github.com/invopop/jsonschema"
)

// Duration is a wrapper around time.Duration that can be decoded from
// human readable strings ("30s", "1h30m") in YAML, JSON and TOML configs.
type Duration struct {
	time.Duration
}

// NewDuration returns Duration wrapper.
func NewDuration(duration time.Duration) Duration {
	return Duration{duration}
}

// UnmarshalText unmarshalls time duration from text.
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

// MarshalText marshals the duration back into its string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// JSONSchema returns a custom schema to be used for the JSON Schema generation of this type.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units: [ns, us, ms, s, m, h, d]",
		Examples: []interface{}{
			"1m",
			"300ms",
		},
	}
}

package util

import (
	"encoding/json"
	"time"
)

// ParsableDuration is a custom type to provide time.Duration unmarshalling
// from human readable strings such as "30s" or "5m".
type ParsableDuration time.Duration

// Duration returns the value as a time.Duration.
func (d ParsableDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d ParsableDuration) String() string {
	return time.Duration(d).String()
}

func (d *ParsableDuration) set(val string) error {
	temp, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*d = ParsableDuration(temp)
	return nil
}

// UnmarshalJSON unmarshall's a JSON string into a time.Duration
func (d *ParsableDuration) UnmarshalJSON(data []byte) error {
	// note: ints aren't accepted, only duration strings.
	var val string
	if err := json.Unmarshal(data, &val); err != nil {
		return err
	}
	return d.set(val)
}

// UnmarshalYAML unmarshall's a YAML string into a time.Duration
func (d *ParsableDuration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var val string
	if err := unmarshal(&val); err != nil {
		return err
	}
	return d.set(val)
}

// MarshalYAML renders the duration in time.Duration's string form.
func (d ParsableDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

package params

import (
	"errors"
	"fmt"
)

// ConfigError is a fatal setup error naming the offending parameter.
type ConfigError struct {
	Parameter  string
	Instrument string
	Reason     string
}

func (e *ConfigError) Error() string {
	if e.Instrument != "" {
		return fmt.Sprintf("parameter '%s' for instrument '%s': %s", e.Parameter, e.Instrument, e.Reason)
	}
	return fmt.Sprintf("parameter '%s': %s", e.Parameter, e.Reason)
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

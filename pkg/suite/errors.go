package suite

import (
	"fmt"
)

// ConfigError reports a config file that could not be found, read or
// understood. It is fatal and raised before any environment is touched.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UnknownJobError is returned when a selected job name is not declared.
type UnknownJobError struct {
	Name string
}

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("'%s' not found in jobs suite", e.Name)
}

// MissingSuiteKeyError is returned when a `run` table has no `suite` key.
type MissingSuiteKeyError struct{}

func (e *MissingSuiteKeyError) Error() string {
	return "missing key 'suite' in 'run' table"
}

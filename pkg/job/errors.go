package job

import "fmt"

// ConfigurationError reports a pipeline setup mistake: a cyclic job graph, an
// unregistered record kind or a job emitting a kind it did not declare.
// It is fatal and never retried.
type ConfigurationError struct {
	Job    string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Job != "" {
		msg += fmt.Sprintf(" in job %s", e.Job)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

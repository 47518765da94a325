package buffer

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned by Write and Flush once shutdown has started.
	ErrShutdown = errors.New("buffer service is shut down")

	// ErrHalted is returned by Write once an export has failed permanently.
	ErrHalted = errors.New("buffer service halted after export failure")
)

// ExportError reports a batch that could not be exported after all retries.
type ExportError struct {
	Exporter string
	Seq      uint64
	Records  int
	Err      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export of batch %d (%d records) to %s failed: %v", e.Seq, e.Records, e.Exporter, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

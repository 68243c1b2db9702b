package pipeline

import "fmt"

// PersistenceError is a per-record structured-store failure after retries
// were exhausted. The run keeps going; the record is reported in the result.
type PersistenceError struct {
	PropertyID string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed for %s: %v", e.PropertyID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RunFatalError aborts the run. Rows committed before it stay committed;
// a later re-run upserts them without creating duplicates.
type RunFatalError struct {
	Stage string
	Err   error
}

func (e *RunFatalError) Error() string {
	return fmt.Sprintf("run aborted during %s: %v", e.Stage, e.Err)
}

func (e *RunFatalError) Unwrap() error {
	return e.Err
}

package common

import (
	"fmt"
	"time"
)

// ConfigurationError reports an invalid static parameter. It is fatal at
// startup; a run with a bad configuration never begins.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// DimensionMismatchError reports a client update whose shape disagrees with
// the global model. The client is excluded from the round, the run continues.
type DimensionMismatchError struct {
	ClientId string
	Want     int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for client %s: want %d, got %d", e.ClientId, e.Want, e.Got)
}

// DropoutError reports a client that did not return a usable update within
// the round timeout. Excluded from the round, no reliability penalty.
type DropoutError struct {
	ClientId string
	Timeout  time.Duration
}

func (e *DropoutError) Error() string {
	return fmt.Sprintf("client %s dropped out after %s", e.ClientId, e.Timeout)
}

// QuorumError reports that too few valid updates remained after exclusions.
// Fatal to the round; the run policy decides between abort and retry.
type QuorumError struct {
	Round    int32
	Valid    int
	Required int
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("quorum not reached in round %d: %d valid updates, need %d", e.Round, e.Valid, e.Required)
}

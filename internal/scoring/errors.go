package scoring

import (
	"fmt"
)

// Kind classifies a scoring failure for presentation.
type Kind string

const (
	// KindNetwork covers an unreachable service, connection-level failures
	// and an open circuit.
	KindNetwork Kind = "network"
	// KindServer is a non-success response carrying a detail message.
	KindServer Kind = "server"
	// KindUnclassified is any other failure.
	KindUnclassified Kind = "unclassified"
)

const messagePrefix = "Failed to analyze transaction. "

// Error is returned by Client.Analyze for every failure.
type Error struct {
	Kind   Kind
	Detail string // server detail, or the cause for unclassified failures
	URL    string // scoring base URL, for network guidance
	Status int    // HTTP status when a response was received
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("scoring: %s error (status %d): %s", e.Kind, e.Status, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("scoring: %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("scoring: %s error: %s", e.Kind, e.Detail)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the inline message shown to the user.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return messagePrefix + "Scoring service not reachable. Is it running on " + e.URL + "?"
	case KindServer:
		return e.Detail
	default:
		if e.Detail != "" {
			return messagePrefix + e.Detail
		}
		return messagePrefix + "Check backend and network."
	}
}

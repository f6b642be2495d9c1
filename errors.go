package iedserver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIntegrity marks a broken handle graph: an unknown node type tag, a
	// repeated handle during parent resolution, or a runaway parent chain.
	// It is a programming-contract violation, not a runtime condition.
	ErrIntegrity = errors.New("iedserver: model integrity violation")

	ErrUnknownNodeType  = errors.New("iedserver: unknown node type")
	ErrNilHandle        = errors.New("iedserver: nil handle")
	ErrModelDestroyed   = errors.New("iedserver: model destroyed")
	ErrNodeNotFound     = errors.New("iedserver: model node not found")
	ErrWrongNodeType    = errors.New("iedserver: wrong model node type")
	ErrConnectionClosed = errors.New("iedserver: client connection closed")
	ErrServerRunning    = errors.New("iedserver: server already running")
	ErrServerStopped    = errors.New("iedserver: server destroyed")

	// ErrCapabilityAbsent is returned (wrapped) by an Engine when an optional
	// feature is not compiled into it, e.g. a particular log storage backend.
	ErrCapabilityAbsent = errors.New("iedserver: engine capability not available")
)

// IntegrityError describes why resolving a handle failed. Chain holds the
// handles visited, starting at the handle that was asked for.
type IntegrityError struct {
	Handle Handle
	Chain  []Handle
	Reason error
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resolve handle %#x: %v", uintptr(e.Handle), e.Reason)
	if len(e.Chain) > 0 {
		b.WriteString(" (chain:")
		for _, h := range e.Chain {
			fmt.Fprintf(&b, " %#x", uintptr(h))
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *IntegrityError) Unwrap() []error {
	return []error{ErrIntegrity, e.Reason}
}

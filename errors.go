package framegraph

import (
	stderrors "errors"

	"github.com/cockroachdb/errors"
)

// Template authoring errors. They are returned by TemplateBuilder.Build and
// never leave a partially built template behind.
var (
	// ErrNodeNotFound is returned when a node type is not registered.
	ErrNodeNotFound = errors.New("framegraph: node type not found")

	// ErrPinNotFound is returned when a node has no pin with the given name
	// and type, or a subgraph has no external pin with the given name.
	ErrPinNotFound = errors.New("framegraph: pin not found")

	// ErrInputAlreadyConnected is returned when connecting a pin that is
	// already fed by another pin.
	ErrInputAlreadyConnected = errors.New("framegraph: input already connected")

	// ErrMissingInput is returned when a required pin is neither connected
	// nor exposed as a template input.
	ErrMissingInput = errors.New("framegraph: missing required input")

	// ErrNotADAG is returned when the connections form a cycle.
	ErrNotADAG = errors.New("framegraph: graph is not a DAG")

	// ErrDuplicateNode is returned when registering a node type name twice.
	ErrDuplicateNode = errors.New("framegraph: node type already registered")
)

// Runtime errors.
var (
	// ErrSubgraphNotFound is returned for a removed or unknown subgraph.
	ErrSubgraphNotFound = errors.New("framegraph: subgraph not found")

	// ErrTypeMismatch is returned when accessing a pin with the wrong type.
	ErrTypeMismatch = errors.New("framegraph: pin type mismatch")

	// ErrNoStagingBuffer is returned when staging data without an upload
	// staging buffer in BuildArgs.
	ErrNoStagingBuffer = errors.New("framegraph: no staging buffer")

	// ErrNodeSkipped marks nodes whose resources could not be created; their
	// execute is skipped for the frame.
	ErrNodeSkipped = errors.New("framegraph: node skipped")

	// ErrDownloadFailed is returned by a Download that could not be staged.
	ErrDownloadFailed = errors.New("framegraph: download failed")

	// ErrClosed is returned when using a closed frame graph.
	ErrClosed = errors.New("framegraph: frame graph closed")
)

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return stderrors.Join(errs...)
	}
}

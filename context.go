package framegraph

import (
	"log/slog"
	"reflect"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
)

// Context is implemented by InitContext, BuildContext and ExecuteContext.
// It gives the generic helpers access to pin storage.
type Context interface {
	frameGraph() *FrameGraph
}

// InitContext is passed to Initializer.Init, once before a node's first
// build.
type InitContext struct {
	fg   *FrameGraph
	node *nodeInstance
}

func (c *InitContext) frameGraph() *FrameGraph { return c.fg }

// Device returns the device resources are allocated from.
func (c *InitContext) Device() gpucore.Device { return c.fg.device }

// Logger returns the logger of the frame graph.
func (c *InitContext) Logger() *slog.Logger { return c.fg.log() }

// NodeName returns the registered type name of the node being initialized.
func (c *InitContext) NodeName() string { return c.node.typ.name }

func valueOf[T any](c Context, ref *pinRef) *T {
	fg := c.frameGraph()
	s := fg.storage(ref.mustStorage())
	v, ok := s.value.(*T)
	if !ok {
		panic(errors.AssertionFailedf("framegraph: pin %q holds %s, not %s",
			ref.name, s.typ.Name, reflect.TypeFor[T]()))
	}
	return v
}

// Access returns the value of a data pin. The value belongs to the pin's
// source: writes through an input pin are seen by every reader of the same
// source.
func Access[T any](c Context, p DataPin[T]) *T {
	return valueOf[T](c, p.ref)
}

// Push appends v to a data sink.
func Push[T any](c Context, p SinkPin[T], v T) {
	s := valueOf[[]T](c, p.ref)
	*s = append(*s, v)
}

// SinkValues returns the values pushed into a data sink this frame.
func SinkValues[T any](c Context, p SinkPin[T]) []T {
	return *valueOf[[]T](c, p.ref)
}

// PushEvent raises the empty event T for the next frame. Nodes observe it
// with HasEvent until that frame ends.
func PushEvent[T any](fg *FrameGraph) {
	fg.events[reflect.TypeFor[T]()] = struct{}{}
}

// HasEvent reports whether the event T was pushed for the current frame.
func HasEvent[T any](c Context) bool {
	_, ok := c.frameGraph().events[reflect.TypeFor[T]()]
	return ok
}

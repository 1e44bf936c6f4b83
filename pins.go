package framegraph

import (
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/internal/arena"
)

// PinKind distinguishes what a pin carries.
type PinKind uint8

// Pin kinds.
const (
	// PinData carries a plain value of the pin type.
	PinData PinKind = iota
	// PinSink collects values pushed by the nodes it is connected to.
	// It is cleared at the start of every frame.
	PinSink
	// PinTexture carries a GPU texture.
	PinTexture
	// PinBuffer carries a GPU buffer range.
	PinBuffer
)

// String returns the pin kind name.
func (k PinKind) String() string {
	switch k {
	case PinData:
		return "data"
	case PinSink:
		return "sink"
	case PinTexture:
		return "texture"
	case PinBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("PinKind(%d)", uint8(k))
	}
}

// TypeDesc describes the type of a pin. Type is the identity used to check
// connections; New returns a fresh *T as any.
type TypeDesc struct {
	Type  reflect.Type
	Name  string
	Size  uintptr
	Align uintptr
	New   func() any
	// Clear resets a value at the start of a frame. Only set for sinks.
	Clear func(any)
}

// TypeOf returns the descriptor of T.
func TypeOf[T any]() TypeDesc {
	t := reflect.TypeFor[T]()
	return TypeDesc{
		Type:  t,
		Name:  t.String(),
		Size:  t.Size(),
		Align: uintptr(t.Align()),
		New:   func() any { return new(T) },
	}
}

func sinkTypeOf[T any]() TypeDesc {
	d := TypeOf[[]T]()
	d.Clear = func(v any) {
		s := v.(*[]T)
		clear(*s)
		*s = (*s)[:0]
	}
	return d
}

// Texture is the GPU texture behind a texture pin.
type Texture struct {
	ID   gpucore.TextureID
	Desc gpucore.TextureDesc
}

type storageID = arena.Handle

// pinRef is shared between a node and the frame graph. The frame graph
// points it at the storage the pin reads this frame.
type pinRef struct {
	storage storageID
	name    string
}

func (r *pinRef) mustStorage() storageID {
	if r == nil {
		panic(errors.AssertionFailedf("framegraph: use of an undeclared pin"))
	}
	if !r.storage.Valid() {
		panic(errors.AssertionFailedf("framegraph: pin %q has no storage", r.name))
	}
	return r.storage
}

// TexturePin is a node's handle to a texture pin.
type TexturePin struct{ ref *pinRef }

// Valid reports whether the pin was declared.
func (p TexturePin) Valid() bool { return p.ref != nil }

// BufferPin is a node's handle to a buffer pin.
type BufferPin struct{ ref *pinRef }

// Valid reports whether the pin was declared.
func (p BufferPin) Valid() bool { return p.ref != nil }

// DataPin is a node's handle to a data pin of type T.
type DataPin[T any] struct{ ref *pinRef }

// Valid reports whether the pin was declared.
func (p DataPin[T]) Valid() bool { return p.ref != nil }

// SinkPin is a node's handle to a data sink collecting values of type T.
type SinkPin[T any] struct{ ref *pinRef }

// Valid reports whether the pin was declared.
func (p SinkPin[T]) Valid() bool { return p.ref != nil }

type pinDecl struct {
	name     string
	kind     PinKind
	typ      TypeDesc
	required bool
	ref      *pinRef
}

// PinOption configures a declared pin.
type PinOption func(*pinDecl)

// Required marks a pin that must be connected or exposed as a template
// input.
func Required() PinOption {
	return func(d *pinDecl) {
		d.required = true
	}
}

// PinSet collects the pins a node declares in DeclarePins.
type PinSet struct {
	pins []pinDecl
}

func (s *PinSet) add(name string, kind PinKind, typ TypeDesc, opts []PinOption) *pinRef {
	for _, p := range s.pins {
		if p.name == name {
			panic(errors.AssertionFailedf("framegraph: pin %q declared twice", name))
		}
	}
	d := pinDecl{name: name, kind: kind, typ: typ, ref: &pinRef{name: name}}
	for _, opt := range opts {
		opt(&d)
	}
	s.pins = append(s.pins, d)
	return d.ref
}

// Texture declares a texture pin.
func (s *PinSet) Texture(name string, opts ...PinOption) TexturePin {
	return TexturePin{ref: s.add(name, PinTexture, TypeOf[Texture](), opts)}
}

// Buffer declares a buffer pin.
func (s *PinSet) Buffer(name string, opts ...PinOption) BufferPin {
	return BufferPin{ref: s.add(name, PinBuffer, TypeOf[gpucore.BufferRange](), opts)}
}

// Data declares a data pin of type T.
func Data[T any](s *PinSet, name string, opts ...PinOption) DataPin[T] {
	return DataPin[T]{ref: s.add(name, PinData, TypeOf[T](), opts)}
}

// Sink declares a data sink of T values.
func Sink[T any](s *PinSet, name string, opts ...PinOption) SinkPin[T] {
	return SinkPin[T]{ref: s.add(name, PinSink, sinkTypeOf[T](), opts)}
}

func (s *PinSet) find(name string) (int, bool) {
	for i, p := range s.pins {
		if p.name == name {
			return i, true
		}
	}
	return -1, false
}

// Pin is implemented by every pin handle.
type Pin interface {
	reference() *pinRef
}

func (p TexturePin) reference() *pinRef { return p.ref }
func (p BufferPin) reference() *pinRef  { return p.ref }
func (p DataPin[T]) reference() *pinRef { return p.ref }
func (p SinkPin[T]) reference() *pinRef { return p.ref }

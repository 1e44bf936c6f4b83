// Package framegraph schedules GPU work declared as a graph of nodes.
//
// # Overview
//
// A renderer is assembled from small nodes connected through typed pins.
// Every frame, the frame graph decides which nodes contribute to an enabled
// output, sorts them, lets each declare its passes and resources, allocates
// transient textures and buffers from a pool with aliasing, deduces the
// barriers between passes, and records everything into one command buffer.
//
// # Quick Start
//
//	registry := framegraph.NewRegistry()
//	registry.MustRegister(framegraph.NodeOf[GBuffer]("gbuffer"))
//	registry.MustRegister(framegraph.NodeOf[Lighting]("lighting"))
//
//	b := framegraph.NewTemplate(registry)
//	gbuffer := b.AddNode("gbuffer")
//	lighting := b.AddNode("lighting")
//	b.Connect(gbuffer, "albedo", lighting, "albedo")
//	b.MakeOutput(lighting, "color", "final")
//	tmpl, err := b.Build()
//
//	fg, err := framegraph.New(device)
//	view := fg.Instantiate(tmpl)
//
//	for {
//	    fg.Build(framegraph.BuildArgs{Staging: upload})
//	    fg.Execute(framegraph.ExecuteArgs{Command: cmd})
//	}
//
// # Nodes
//
// A node declares its pins once, in DeclarePins, and keeps the returned
// handles. It opts into the frame lifecycle through Initializer, Builder,
// Executor and Destroyer. Build declares passes and the access every pass
// makes to each resource; Execute records commands against the resources
// allocated for the frame.
//
// # Pins
//
// Texture and buffer pins carry GPU resources. Data pins carry plain Go
// values read with Access. Sinks flow the other way: consumers push values
// that the producer reads back with SinkValues during the same frame.
//
// # Architecture
//
// The package is organized into:
//   - Public API: Registry, TemplateBuilder, FrameGraph, contexts, pins
//   - gpucore: the device contract implemented by backends
//   - Internal: dag (graph and sort), respool (resource pool),
//     statetrack (barrier deduction), arena (generational handles)
//   - staging, bindless: frame-scoped upload and descriptor helpers
//   - Backends: software (in-memory, headless), native (gogpu/wgpu hal)
package framegraph

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)

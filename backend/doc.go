// Package backend is the registry of frame graph devices.
//
// Backend packages register a factory from init() and are selected at
// runtime by name or by priority:
//
//	import _ "github.com/gogpu/framegraph/backend/software"
//	import _ "github.com/gogpu/framegraph/backend/native"
//
//	// Best available device: native first, software as fallback.
//	dev, err := backend.OpenDefault()
//
//	// Or a specific one.
//	dev, err := backend.Open(backend.Software)
//
// # Available Backends
//
//   - "software": in-memory device that records commands (always available)
//   - "native": GPU device over gogpu/wgpu hal (needs a hal backend, e.g. Vulkan)
package backend

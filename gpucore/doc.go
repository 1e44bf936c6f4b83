// Package gpucore defines the GPU backend contract consumed by the frame graph.
//
// The frame graph never talks to a native API directly. It creates
// resources, records commands and paces frames through the [Device],
// [CommandBuffer] and [BindlessTable] interfaces, and describes
// synchronization with backend-neutral types:
//
//   - [PipelineStage] and [MemoryAccess] bitmasks
//   - [ImageLayout] for textures
//   - [TextureAccess] and [BufferAccess], the closed usage categories passes declare
//   - [TextureBarrier], [BufferBarrier] and [MemoryBarrier], batched in [Barriers]
//
// # Architecture
//
//	               +-----------------+
//	               |   framegraph    |
//	               | (build/execute) |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               |     gpucore     |
//	               | Device contract |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| backend/native  |          |backend/software |
//	|  (hal.Device)   |          |   (in memory)   |
//	+-----------------+          +-----------------+
//
// # Resource Management
//
// GPU resources are managed via opaque IDs ([BufferID], [TextureID]).
// Devices are responsible for tracking the mapping between IDs and actual
// GPU resources. [InvalidID] is never returned for a live resource.
//
// # Submit Indices
//
// Every submission receives a monotonically increasing index starting at 1.
// [Device.LastFinishedSubmit] lets the frame graph and the staging buffer
// reclaim memory only once the GPU is done with it.
package gpucore

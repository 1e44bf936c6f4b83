// Package staging implements host-visible staging memory for GPU uploads and
// downloads.
//
// A Buffer owns one host-visible gpucore buffer managed as a ring. Data is
// staged during a frame, copied to its destination by commands recorded in
// the same frame, and the bytes return to the ring once the GPU reports the
// frame as finished:
//
//	sb.BeginFrame(device.SubmitIndex())
//	span, err := sb.Stage(vertices)
//	if err != nil {
//		return err // ErrInsufficientSpace: wait for the GPU and retry
//	}
//	sb.Upload(cmd, span, vertexBuffer, 0)
//	sb.EndFrame()
//	...
//	sb.NotifyFinishedFrames(device.LastFinishedSubmit())
//
// A Span may wrap around the end of the ring, in which case it has two
// segments. Copies issued by Upload and Download use one region per segment.
package staging

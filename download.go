package framegraph

import (
	"context"

	"github.com/gogpu/framegraph/staging"
)

// Download is the promise of the contents of a buffer downloaded during a
// frame. It resolves during a later Execute, once the GPU finished the
// frame's submit. Its methods are safe for concurrent use.
type Download struct {
	done   chan struct{}
	data   []byte
	err    error
	submit uint64
	span   staging.Span
	staged bool
}

func newDownload(submit uint64) *Download {
	return &Download{done: make(chan struct{}), submit: submit}
}

func (d *Download) resolve(data []byte) {
	d.data = data
	close(d.done)
}

func (d *Download) fail(err error) {
	d.err = err
	close(d.done)
}

// Ready reports whether the download resolved, successfully or not.
func (d *Download) Ready() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Bytes returns the downloaded bytes once the download succeeded.
func (d *Download) Bytes() ([]byte, bool) {
	if !d.Ready() || d.err != nil {
		return nil, false
	}
	return d.data, true
}

// Err returns why a resolved download failed.
func (d *Download) Err() error {
	if !d.Ready() {
		return nil
	}
	return d.err
}

// Wait blocks until the download resolves or ctx is done. Frames must keep
// executing for a download to resolve.
func (d *Download) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-d.done:
		return d.data, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package respool

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
)

type chunk struct {
	id         gpucore.BufferID
	size       uint64
	used       uint64
	lastSubmit uint64
}

// chunkClass is a monotonic allocator over chunk buffers sharing one usage.
// restore rewinds it at the start of every build; chunks are kept.
type chunkClass struct {
	name      string
	usage     gpucore.BufferUsage
	chunkSize uint64
	alignment uint64
	chunks    []*chunk
	current   int
}

func newChunkClasses(chunkSize, alignment uint64) []*chunkClass {
	classes := []*chunkClass{
		{
			name:  "uniform",
			usage: gpucore.BufferUsageCopyDst | gpucore.BufferUsageUniform,
		},
		{
			name: "storage",
			usage: gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst |
				gpucore.BufferUsageIndex | gpucore.BufferUsageVertex | gpucore.BufferUsageStorage,
		},
		{
			name: "indirect",
			usage: gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst |
				gpucore.BufferUsageStorage | gpucore.BufferUsageIndirect,
		},
	}
	for _, c := range classes {
		c.chunkSize = chunkSize
		c.alignment = alignment
	}
	return classes
}

func (c *chunkClass) restore() {
	for _, ch := range c.chunks {
		ch.used = 0
	}
	c.current = 0
}

func (c *chunkClass) allocate(p *Pool, size, submit uint64) (gpucore.BufferRange, error) {
	for ; c.current < len(c.chunks); c.current++ {
		ch := c.chunks[c.current]
		off := alignUp(ch.used, c.alignment)
		if off+size <= ch.size {
			ch.used = off + size
			ch.lastSubmit = submit
			return gpucore.BufferRange{Buffer: ch.id, Offset: off, Size: size}, nil
		}
	}

	chunkSize := max(c.chunkSize, size)
	id, err := p.device.CreateBuffer(&gpucore.BufferDesc{
		Label: fmt.Sprintf("%s chunk %d", c.name, len(c.chunks)),
		Size:  chunkSize,
		Usage: c.usage,
	})
	if err != nil {
		return gpucore.BufferRange{}, errors.Wrapf(err, "respool: create %s chunk of %d bytes", c.name, chunkSize)
	}
	p.stats.BuffersCreated++
	ch := &chunk{id: id, size: chunkSize, used: size, lastSubmit: submit}
	c.chunks = append(c.chunks, ch)
	c.current = len(c.chunks) - 1
	return gpucore.BufferRange{Buffer: id, Offset: 0, Size: size}, nil
}

func (c *chunkClass) destroy(d gpucore.Device) {
	for _, ch := range c.chunks {
		d.DestroyBuffer(ch.id)
	}
	c.chunks = nil
	c.current = 0
}

func alignUp(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

package respool

import "fmt"

// Stats contains resource pool statistics.
type Stats struct {
	// PhysicalTextures is the number of pooled transient textures.
	PhysicalTextures int

	// StableTextures is the number of textures kept across frames.
	StableTextures int

	// StableBuffers is the number of buffers kept across frames.
	StableBuffers int

	// ChunkBuffers is the number of transient buffer chunks.
	ChunkBuffers int

	// PendingDestroy is the number of resources waiting for the GPU.
	PendingDestroy int

	// TexturesCreated is the total number of textures created.
	TexturesCreated uint64

	// TexturesReused is the total number of requests served by a pooled texture.
	TexturesReused uint64

	// TexturesDestroyed is the total number of textures destroyed.
	TexturesDestroyed uint64

	// BuffersCreated is the total number of buffers created.
	BuffersCreated uint64

	// BuffersDestroyed is the total number of buffers destroyed.
	BuffersDestroyed uint64

	// Evicted is the total number of resources evicted for being unused.
	Evicted uint64
}

// String returns a human-readable string of pool stats.
func (s Stats) String() string {
	return fmt.Sprintf("Pool[%d textures (%d stable), %d stable buffers, %d chunks, %d pending, created %d, reused %d, evicted %d]",
		s.PhysicalTextures,
		s.StableTextures,
		s.StableBuffers,
		s.ChunkBuffers,
		s.PendingDestroy,
		s.TexturesCreated,
		s.TexturesReused,
		s.Evicted)
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	s := p.stats
	s.PhysicalTextures = len(p.physical)
	s.StableTextures = len(p.stableTextures)
	s.StableBuffers = len(p.stableBuffers)
	s.PendingDestroy = len(p.pending)
	for _, c := range p.chunks {
		s.ChunkBuffers += len(c.chunks)
	}
	return s
}

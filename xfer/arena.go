package xfer

// arena is the single memory block of a group. Setup sizes it in one pass
// and carves it in a second, so a failed setup never leaves partial
// allocations behind.
type arena struct {
	data      []byte
	lengths   []uint32
	frames    []FrameBuffer
	transfers []Transfer

	// carve cursors
	dataOff, lenOff, frameOff, xferOff int
}

// arenaSize accumulates the first pass.
type arenaSize struct {
	data      int
	lengths   int
	frames    int
	transfers int
}

// add reserves room for one transfer with geometry g.
func (s *arenaSize) add(g *Geometry) {
	s.data = alignUp(s.data) + alignUp(g.BufferSize)
	s.lengths += 2 * g.NumFrLengths
	s.frames += g.NumFrBuffers
	s.transfers++
}

// bytes approximates the footprint checked against Options.MaxArenaSize.
func (s *arenaSize) bytes() int {
	return s.data + 4*s.lengths + 32*s.frames + 512*s.transfers
}

func newArena(s arenaSize) *arena {
	return &arena{
		data:      make([]byte, s.data),
		lengths:   make([]uint32, s.lengths),
		frames:    make([]FrameBuffer, s.frames),
		transfers: make([]Transfer, s.transfers),
	}
}

// carve hands out the next transfer and its slices, in the same order the
// sizes were added.
func (a *arena) carve(g *Geometry) (x *Transfer, buf []byte, lengths, shadow []uint32, frames []FrameBuffer) {
	x = &a.transfers[a.xferOff]
	a.xferOff++

	a.dataOff = alignUp(a.dataOff)
	n := alignUp(g.BufferSize)
	buf = a.data[a.dataOff : a.dataOff+g.BufferSize : a.dataOff+n]
	a.dataOff += n

	lengths = a.lengths[a.lenOff : a.lenOff+g.NumFrLengths : a.lenOff+g.NumFrLengths]
	a.lenOff += g.NumFrLengths
	shadow = a.lengths[a.lenOff : a.lenOff+g.NumFrLengths : a.lenOff+g.NumFrLengths]
	a.lenOff += g.NumFrLengths

	frames = a.frames[a.frameOff : a.frameOff+g.NumFrBuffers : a.frameOff+g.NumFrBuffers]
	a.frameOff += g.NumFrBuffers
	return x, buf, lengths, shadow, frames
}

// release drops every reference so the block can be collected.
func (a *arena) release() {
	a.data = nil
	a.lengths = nil
	a.frames = nil
	a.transfers = nil
}

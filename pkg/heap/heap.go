// Package heap implements a first-fit, block-header allocator: a single
// statically sized byte arena shared by the whole node, with
// Malloc/Calloc/Realloc/Free semantics matching a C-style heap. No
// available third-party allocator fits this shape (it is
// pointer/offset arithmetic over a byte slice, not a higher-level data
// structure), so this package is standard-library only; see DESIGN.md
// for the justification.
package heap

import "github.com/hellfireos/hellfireos/pkg/errcode"

// header precedes every block (free or allocated) in the arena. size is
// the usable payload size that follows the header, not counting the
// header itself.
type header struct {
	size int
	used bool
}

const headerSize = 16 // generous fixed slot so offsets stay arena-index math, not unsafe.Sizeof

// Heap is a first-fit allocator over a fixed-size arena. All operations
// must be called with the kernel's interrupt-disabled or scheduler-locked
// section held; Heap itself does not lock.
type Heap struct {
	arena []byte
	free  int // bytes available across all free blocks
}

// New allocates an arena of size bytes and formats it as a single free
// block.
func New(size int) *Heap {
	h := &Heap{arena: make([]byte, size)}
	h.putHeader(0, header{size: size - headerSize, used: false})
	h.free = size - headerSize
	return h
}

// Free reports the bytes currently available across all free blocks.
func (h *Heap) Free() int {
	return h.free
}

// Size reports the total arena size, including header overhead.
func (h *Heap) Size() int {
	return len(h.arena)
}

func (h *Heap) getHeader(off int) header {
	return header{
		size: int(h.arena[off]) | int(h.arena[off+1])<<8 | int(h.arena[off+2])<<16 | int(h.arena[off+3])<<24,
		used: h.arena[off+4] != 0,
	}
}

func (h *Heap) putHeader(off int, hd header) {
	h.arena[off] = byte(hd.size)
	h.arena[off+1] = byte(hd.size >> 8)
	h.arena[off+2] = byte(hd.size >> 16)
	h.arena[off+3] = byte(hd.size >> 24)
	if hd.used {
		h.arena[off+4] = 1
	} else {
		h.arena[off+4] = 0
	}
}

// Ptr is an opaque handle into the arena, standing in for a raw pointer
// into krnl_heap. The zero Ptr is the null pointer.
type Ptr struct {
	off   int
	valid bool
}

// Nil is the null pointer equivalent.
var Nil = Ptr{}

// Malloc reserves n bytes from the first free block large enough to
// hold them, splitting the block if the remainder can itself host a
// header plus at least one byte of payload. Returns errcode.OOM if no
// block fits.
func (h *Heap) Malloc(n int) (Ptr, error) {
	if n <= 0 {
		return Nil, errcode.BadParam
	}
	off := 0
	for off < len(h.arena) {
		hd := h.getHeader(off)
		blockStart := off + headerSize
		if !hd.used && hd.size >= n {
			remaining := hd.size - n
			if remaining > headerSize {
				h.putHeader(off, header{size: n, used: true})
				newFreeOff := blockStart + n
				h.putHeader(newFreeOff, header{size: remaining - headerSize, used: false})
			} else {
				// not enough left over for another header: hand out the
				// whole block, including the slack.
				h.putHeader(off, header{size: hd.size, used: true})
			}
			h.free -= n
			return Ptr{off: blockStart, valid: true}, nil
		}
		off = blockStart + hd.size
	}
	return Nil, errcode.OOM
}

// Calloc reserves qty*size bytes and zeroes them.
func (h *Heap) Calloc(qty, size int) (Ptr, error) {
	n := qty * size
	p, err := h.Malloc(n)
	if err != nil {
		return Nil, err
	}
	payload, _ := h.payload(p)
	for i := range payload {
		payload[i] = 0
	}
	return p, nil
}

// Free releases the block at p, coalescing it with an immediately
// following free block if there is one. Freeing Nil is a no-op, matching
// the common C convention.
func (h *Heap) Free(p Ptr) error {
	if !p.valid {
		return nil
	}
	off := p.off - headerSize
	if off < 0 || off >= len(h.arena) {
		return errcode.BadParam
	}
	hd := h.getHeader(off)
	if !hd.used {
		return errcode.BadParam
	}
	hd.used = false
	h.free += hd.size
	h.putHeader(off, hd)

	// Coalesce with the block immediately following, if it's free.
	next := off + headerSize + hd.size
	if next < len(h.arena) {
		nhd := h.getHeader(next)
		if !nhd.used {
			hd.size += headerSize + nhd.size
			h.putHeader(off, hd)
		}
	}

	// Coalesce with the block immediately preceding, if it's free. There
	// is no back-pointer, so find it the boundary-tag way: scan forward
	// from the start of the arena until a block's end lines up with off.
	prevOff := -1
	for scan := 0; scan < off; {
		phd := h.getHeader(scan)
		if scan+headerSize+phd.size == off {
			prevOff = scan
			break
		}
		scan += headerSize + phd.size
	}
	if prevOff >= 0 {
		phd := h.getHeader(prevOff)
		if !phd.used {
			cur := h.getHeader(off)
			phd.size += headerSize + cur.size
			h.putHeader(prevOff, phd)
		}
	}
	return nil
}

// Realloc resizes the block at p to n bytes. Realloc(Nil, n) behaves
// like Malloc(n); Realloc(p, 0) frees p and returns Nil.
func (h *Heap) Realloc(p Ptr, n int) (Ptr, error) {
	if !p.valid {
		return h.Malloc(n)
	}
	if n == 0 {
		return Nil, h.Free(p)
	}
	off := p.off - headerSize
	hd := h.getHeader(off)
	if n <= hd.size {
		return p, nil
	}
	np, err := h.Malloc(n)
	if err != nil {
		return Nil, err
	}
	oldPayload, _ := h.payload(p)
	newPayload, _ := h.payload(np)
	copy(newPayload, oldPayload)
	_ = h.Free(p)
	return np, nil
}

// payload returns a byte slice view over p's usable bytes.
func (h *Heap) payload(p Ptr) ([]byte, error) {
	if !p.valid {
		return nil, errcode.BadParam
	}
	off := p.off - headerSize
	hd := h.getHeader(off)
	return h.arena[p.off : p.off+hd.size], nil
}

// Payload exposes p's usable bytes for reading/writing, the equivalent
// of dereferencing the allocated pointer.
func (h *Heap) Payload(p Ptr) ([]byte, error) {
	return h.payload(p)
}

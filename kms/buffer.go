package kms

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/drmkit/mode"
)

// Buffer is a kernel allocated dumb buffer. It is owned by whoever
// created it and must be unmapped before it is destroyed.
type Buffer struct {
	h         *Handle
	dumb      mode.Dumb
	mapping   *Mapping
	destroyed bool
}

// Mapping is the process view of a mapped Buffer. Only one Mapping of
// a buffer exists at a time; it is invalid after Unmap.
type Mapping struct {
	buf    *Buffer
	data   []byte
	offset uint64
}

// CreateBuffer allocates a dumb buffer of the given geometry. The
// kernel chooses pitch and size; all addressing must use them.
func (h *Handle) CreateBuffer(width, height, bpp uint32) (*Buffer, error) {
	op := fmt.Sprintf("create dumb %dx%d@%d", width, height, bpp)
	if width == 0 || height == 0 || bpp == 0 {
		return nil, &Error{Op: op, Kind: ErrAllocationFailed, Err: unix.EINVAL}
	}

	var d *mode.Dumb
	err := h.mutate(func(dev Device) (err error) {
		d, err = dev.CreateDumb(width, height, bpp)
		return err
	})
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrAllocationFailed, Err: err}
	}

	b := &Buffer{h: h, dumb: *d}
	minPitch := (uint64(d.Width)*uint64(d.BPP) + 7) / 8
	if uint64(d.Pitch) < minPitch || d.Size < uint64(d.Pitch)*uint64(d.Height) {
		if err := b.destroy(); err != nil {
			h.log.Error("failed to destroy inconsistent dumb buffer", "handle", d.Handle, "err", err)
		}
		return nil, &Error{
			Op:   op,
			Kind: ErrAllocationFailed,
			Err:  fmt.Errorf("kernel returned pitch %d size %d", d.Pitch, d.Size),
		}
	}
	h.log.Debug("created dumb buffer", "handle", d.Handle, "pitch", d.Pitch, "size", d.Size)
	return b, nil
}

// GEMHandle is the kernel handle of the buffer.
func (b *Buffer) GEMHandle() uint32 { return b.dumb.Handle }

func (b *Buffer) Width() uint32  { return b.dumb.Width }
func (b *Buffer) Height() uint32 { return b.dumb.Height }
func (b *Buffer) BPP() uint32    { return b.dumb.BPP }

// Pitch is the number of bytes per row, padding included.
func (b *Buffer) Pitch() uint32 { return b.dumb.Pitch }

func (b *Buffer) Size() uint64 { return b.dumb.Size }

func (b *Buffer) Mapped() bool { return b.mapping != nil }

func (b *Buffer) Destroyed() bool { return b.destroyed }

// Mapping returns the live mapping, or nil.
func (b *Buffer) Mapping() *Mapping { return b.mapping }

// Map maps the whole buffer shared and read/write. Mapping an already
// mapped buffer fails with ErrPrecondition.
func (b *Buffer) Map() (*Mapping, error) {
	if b.destroyed {
		return nil, precondition("map buffer %d: destroyed", b.dumb.Handle)
	}
	if b.mapping != nil {
		return nil, precondition("map buffer %d: already mapped", b.dumb.Handle)
	}

	var offset uint64
	err := b.h.query(func(dev Device) (err error) {
		offset, err = dev.MapDumb(b.dumb.Handle)
		return err
	})
	if err != nil {
		return nil, &Error{Op: fmt.Sprintf("map dumb %d", b.dumb.Handle), Kind: ErrMapHandleFailed, Err: err}
	}

	var data []byte
	err = b.h.query(func(dev Device) (err error) {
		data, err = dev.Mmap(offset, b.dumb.Size)
		return err
	})
	if err != nil {
		return nil, &Error{Op: fmt.Sprintf("mmap buffer %d", b.dumb.Handle), Kind: ErrMapFailed, Err: err}
	}
	if uint64(len(data)) != b.dumb.Size {
		_ = b.h.query(func(dev Device) error { return dev.Munmap(data) })
		return nil, &Error{
			Op:   fmt.Sprintf("mmap buffer %d", b.dumb.Handle),
			Kind: ErrMapFailed,
			Err:  fmt.Errorf("mapped %d bytes, want %d", len(data), b.dumb.Size),
		}
	}

	b.mapping = &Mapping{buf: b, data: data, offset: offset}
	return b.mapping, nil
}

// Unmap releases the mapping if there is one.
func (b *Buffer) Unmap() error {
	if b.mapping == nil {
		return nil
	}
	return b.mapping.Unmap()
}

// Destroy frees the kernel buffer. A mapped buffer is never destroyed:
// the call fails with ErrPrecondition.
func (b *Buffer) Destroy() error {
	if b.destroyed {
		return precondition("destroy buffer %d: already destroyed", b.dumb.Handle)
	}
	if b.mapping != nil {
		return precondition("destroy buffer %d: still mapped", b.dumb.Handle)
	}
	if err := b.destroy(); err != nil {
		b.h.log.Error("failed to destroy dumb buffer", "handle", b.dumb.Handle, "err", err)
		return err
	}
	return nil
}

func (b *Buffer) destroy() error {
	err := b.h.mutate(func(dev Device) error {
		return dev.DestroyDumb(b.dumb.Handle)
	})
	if err != nil {
		return &Error{Op: fmt.Sprintf("destroy dumb %d", b.dumb.Handle), Kind: ErrDestroyFailed, Err: err}
	}
	b.destroyed = true
	return nil
}

// Unmap releases the mapping. Calling it again is a no-op.
func (m *Mapping) Unmap() error {
	if m.data == nil {
		return nil
	}
	b := m.buf
	// munmap does not need the descriptor, it works after Close too
	if err := b.h.dev.Munmap(m.data); err != nil {
		return &Error{Op: fmt.Sprintf("munmap buffer %d", b.dumb.Handle), Kind: ErrMapFailed, Err: err}
	}
	m.data = nil
	if b.mapping == m {
		b.mapping = nil
	}
	return nil
}

// Bytes is the mapped memory, exactly Size bytes, or nil once
// unmapped.
func (m *Mapping) Bytes() []byte { return m.data }

func (m *Mapping) Buffer() *Buffer { return m.buf }

// Offset is the fake mmap offset the kernel returned for the buffer.
func (m *Mapping) Offset() uint64 { return m.offset }

func (m *Mapping) Width() uint32  { return m.buf.dumb.Width }
func (m *Mapping) Height() uint32 { return m.buf.dumb.Height }
func (m *Mapping) Pitch() uint32  { return m.buf.dumb.Pitch }

// PixelOffset returns the byte offset of pixel (x, y):
// y*pitch + x*bytesPerPixel.
func (m *Mapping) PixelOffset(x, y uint32) (int, bool) {
	d := &m.buf.dumb
	if x >= d.Width || y >= d.Height {
		return 0, false
	}
	bpp := uint64(d.BPP+7) / 8
	off := uint64(y)*uint64(d.Pitch) + uint64(x)*bpp
	if off+bpp > uint64(len(m.data)) {
		return 0, false
	}
	return int(off), true
}

// SetPixel stores a 32 bit pixel in native byte order with a single
// word write. It reports false for out of range coordinates, non 32 bpp
// buffers and unmapped buffers.
func (m *Mapping) SetPixel(x, y, val uint32) bool {
	if m.buf.dumb.BPP != 32 {
		return false
	}
	off, ok := m.PixelOffset(x, y)
	if !ok {
		return false
	}
	*(*uint32)(unsafe.Pointer(&m.data[off])) = val
	return true
}

func (m *Mapping) Pixel(x, y uint32) (uint32, bool) {
	if m.buf.dumb.BPP != 32 {
		return 0, false
	}
	off, ok := m.PixelOffset(x, y)
	if !ok {
		return 0, false
	}
	return *(*uint32)(unsafe.Pointer(&m.data[off])), true
}

// Clear zeroes the whole mapping.
func (m *Mapping) Clear() {
	clear(m.data)
}

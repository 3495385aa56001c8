package kms

import (
	"context"
	"errors"
	"fmt"

	"github.com/NeowayLabs/drmkit/internal/log"
	"github.com/NeowayLabs/drmkit/mode"
)

// restoreAttempts is how many times a CRTC restore is issued before
// giving up.
const restoreAttempts = 2

// Framebuffer is a Buffer registered with the device for scanout.
type Framebuffer struct {
	h       *Handle
	id      uint32
	buf     *Buffer
	removed bool
}

func (fb *Framebuffer) ID() uint32 { return fb.id }

func (fb *Framebuffer) Buffer() *Buffer { return fb.buf }

func (fb *Framebuffer) Removed() bool { return fb.removed }

// depth for the legacy ADDFB call, 32 bpp is XRGB8888
func depth(bpp uint32) uint8 {
	if bpp == 32 {
		return 24
	}
	return uint8(bpp)
}

// AddFramebuffer registers b for scanout. b needs to be allocated but
// not necessarily mapped.
func (h *Handle) AddFramebuffer(b *Buffer) (*Framebuffer, error) {
	if b == nil || b.destroyed {
		return nil, precondition("add framebuffer: buffer not allocated")
	}
	d := &b.dumb
	var id uint32
	err := h.mutate(func(dev Device) (err error) {
		id, err = dev.AddFB(d.Width, d.Height, depth(d.BPP), uint8(d.BPP), d.Pitch, d.Handle)
		return err
	})
	if err != nil {
		return nil, &Error{Op: fmt.Sprintf("add fb for buffer %d", d.Handle), Kind: ErrRegisterFailed, Err: err}
	}
	h.log.Debug("registered framebuffer", "fb", id, "handle", d.Handle)
	return &Framebuffer{h: h, id: id, buf: b}, nil
}

// Remove unregisters the framebuffer. Removing twice is a no-op.
func (fb *Framebuffer) Remove() error {
	if fb.removed {
		return nil
	}
	err := fb.h.mutate(func(dev Device) error { return dev.RmFB(fb.id) })
	if err != nil {
		return &Error{Op: fmt.Sprintf("remove fb %d", fb.id), Kind: ErrDestroyFailed, Err: err}
	}
	fb.removed = true
	return nil
}

// Bind shows fb on the output's CRTC using the output's selected mode.
// Whatever was displayed before is replaced, which is why only outputs
// with a captured snapshot are bindable. Outputs that are not bindable
// fail with ErrPrecondition before any kernel call.
//
// When the CRTC call fails the output is restored from its snapshot on
// a best-effort basis.
func (h *Handle) Bind(ctx context.Context, o *Output, fb *Framebuffer) error {
	if o == nil || !o.Bindable() {
		return precondition("bind: output is not bindable")
	}
	if o.h != h {
		return precondition("bind connector %d: output belongs to another handle", o.conn.ID)
	}
	if fb == nil || fb.removed {
		return precondition("bind connector %d: framebuffer not registered", o.conn.ID)
	}
	if o.state == Bound {
		return precondition("bind connector %d: already bound", o.conn.ID)
	}

	err := h.setCrtc(ctx, o.crtcID, fb.id, 0, 0, []uint32{o.conn.ID}, &o.mode)
	if err == nil {
		o.state = Bound
		o.fb = fb
		h.log.Debug("bound framebuffer", "connector", o.conn.ID, "crtc", o.crtcID, "fb", fb.id)
		return nil
	}

	bindErr := &Error{Op: fmt.Sprintf("set crtc %d for connector %d", o.crtcID, o.conn.ID), Kind: ErrBindFailed, Err: err}
	h.log.Error("failed to set crtc", "connector", o.conn.ID, "crtc", o.crtcID, "err", err)

	// the kernel may have applied part of the configuration
	o.state = Bound
	if rerr := h.Restore(context.WithoutCancel(ctx), o); rerr != nil {
		return errors.Join(bindErr, rerr)
	}
	return bindErr
}

// Restore reprograms the output's CRTC from the snapshot captured
// before Bind. Connectors that shared the CRTC at discovery are
// reattached along with the output's own. A failed attempt is retried
// once; if that fails too the display is likely stuck on our
// framebuffer and a fatal record is logged.
func (h *Handle) Restore(ctx context.Context, o *Output) error {
	if o == nil || o.state != Bound {
		return precondition("restore: output is not bound")
	}
	if o.saved == nil {
		return precondition("restore connector %d: no crtc snapshot", o.conn.ID)
	}

	s := o.saved
	var (
		m     *mode.Info
		conns []uint32
	)
	// a CRTC that was off is turned off again, that takes no connectors
	if s.ModeValid {
		m = &s.Mode
		conns = append([]uint32{o.conn.ID}, o.clones...)
	}

	var err error
	for attempt := 1; attempt <= restoreAttempts; attempt++ {
		err = h.setCrtc(ctx, s.ID, s.BufferID, s.X, s.Y, conns, m)
		if err == nil {
			o.state = Restored
			o.fb = nil
			h.log.Debug("restored crtc", "connector", o.conn.ID, "crtc", s.ID, "fb", s.BufferID)
			return nil
		}
		if attempt < restoreAttempts {
			h.log.Warn("failed to restore crtc, retrying", "connector", o.conn.ID, "crtc", s.ID, "err", err)
		}
	}

	log.Fatal(h.log, "failed to restore crtc, the display may stay on the test framebuffer",
		"connector", o.conn.ID, "crtc", s.ID, "err", err)
	return &Error{Op: fmt.Sprintf("restore crtc %d for connector %d", s.ID, o.conn.ID), Kind: ErrRestoreFailed, Err: err}
}

// setCrtc issues the CRTC configuration with the configured deadline.
// If the deadline passes the call is abandoned; the ioctl itself keeps
// running and holds the device until it returns.
func (h *Handle) setCrtc(ctx context.Context, crtcID, fbID, x, y uint32, conns []uint32, m *mode.Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.CrtcTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.mutate(func(dev Device) error {
			return dev.SetCrtc(crtcID, fbID, x, y, conns, m)
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

package kms

import (
	"context"
	"fmt"
)

// Attach walks the acquisition sequence for one output: a buffer sized
// to the output's mode is created, mapped, cleared, registered and
// bound. Each acquired resource is tracked in td before the next step,
// so on error the caller runs td to unwind whatever was built.
func (h *Handle) Attach(ctx context.Context, o *Output, bpp uint32, td *Teardown) (*Mapping, error) {
	if o == nil || !o.Bindable() {
		return nil, precondition("attach: output is not bindable")
	}
	m, _ := o.Mode()

	b, err := h.CreateBuffer(uint32(m.Hdisplay), uint32(m.Vdisplay), bpp)
	if err != nil {
		return nil, err
	}
	td.TrackBuffer(b)

	mapping, err := b.Map()
	if err != nil {
		return nil, err
	}
	mapping.Clear()

	fb, err := h.AddFramebuffer(b)
	if err != nil {
		return nil, err
	}
	td.TrackFramebuffer(fb)

	td.TrackOutput(o)
	if err := h.Bind(ctx, o, fb); err != nil {
		return nil, err
	}
	h.log.Info("output attached", "output", o.Name(), "mode", m.String(),
		"crtc", o.crtcID, "fb", fb.id, "pitch", b.Pitch())
	return mapping, nil
}

// AttachAll attaches every bindable output of outs. It stops at the
// first failure, leaving what was acquired in td.
func (h *Handle) AttachAll(ctx context.Context, outs []*Output, bpp uint32, td *Teardown) (map[*Output]*Mapping, error) {
	mappings := map[*Output]*Mapping{}
	for _, o := range Bindable(outs) {
		mapping, err := h.Attach(ctx, o, bpp, td)
		if err != nil {
			return mappings, fmt.Errorf("attach %s: %w", o.Name(), err)
		}
		mappings[o] = mapping
	}
	return mappings, nil
}

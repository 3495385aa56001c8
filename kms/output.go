package kms

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/NeowayLabs/drmkit/mode"
)

// State is the position of an Output in its lifecycle.
type State int

const (
	Discovered State = iota
	SnapshotCaptured
	Bound
	Restored
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case SnapshotCaptured:
		return "snapshot-captured"
	case Bound:
		return "bound"
	case Restored:
		return "restored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CrtcState is the configuration of a CRTC as read from the kernel.
type CrtcState struct {
	ID        uint32
	BufferID  uint32
	X, Y      uint32
	ModeValid bool
	Mode      mode.Info
}

// Output is a connector together with the encoder and CRTC currently
// driving it. It keeps a back reference to its Handle but never closes
// it.
type Output struct {
	h *Handle

	conn      *mode.Connector
	mode      mode.Info
	hasMode   bool
	encoderID uint32
	crtcID    uint32
	// connectors sharing crtcID that were left to this output
	clones []uint32

	saved    *CrtcState
	state    State
	fb       *Framebuffer
	released bool
}

func (o *Output) ConnectorID() uint32 { return o.conn.ID }

// Name is the kernel style connector name, e.g. HDMI-A-1.
func (o *Output) Name() string { return o.conn.Name() }

func (o *Output) Status() mode.Connection { return o.conn.Connection }

func (o *Output) Connector() *mode.Connector { return o.conn }

func (o *Output) Modes() []mode.Info { return o.conn.Modes }

// Mode is the selected mode: always the first one the connector lists.
func (o *Output) Mode() (mode.Info, bool) { return o.mode, o.hasMode }

func (o *Output) EncoderID() uint32 { return o.encoderID }

func (o *Output) CrtcID() uint32 { return o.crtcID }

func (o *Output) State() State { return o.state }

// Framebuffer is the framebuffer currently bound, or nil.
func (o *Output) Framebuffer() *Framebuffer { return o.fb }

// Snapshot returns a copy of the CRTC state saved before binding.
func (o *Output) Snapshot() (CrtcState, bool) {
	if o.saved == nil {
		return CrtcState{}, false
	}
	return *o.saved, true
}

// Bindable reports whether the output is connected, has a mode, is
// driven by a CRTC and has a saved CRTC snapshot. Outputs that are
// connected but not driven are a normal occurrence and are simply not
// bindable. An output whose snapshot could not be captured becomes
// bindable once CaptureSnapshot succeeds.
func (o *Output) Bindable() bool {
	return !o.released && o.conn.Connection == mode.Connected && o.hasMode &&
		o.crtcID != 0 && o.saved != nil
}

func (o *Output) String() string {
	m := "none"
	if o.hasMode {
		m = o.mode.String()
	}
	return fmt.Sprintf("%s (connector %d, %s, mode %s, crtc %d)",
		o.Name(), o.conn.ID, o.conn.Connection, m, o.crtcID)
}

// Bindable filters outs down to the outputs that can be bound.
func Bindable(outs []*Output) []*Output {
	var ret []*Output
	for _, o := range outs {
		if o.Bindable() {
			ret = append(ret, o)
		}
	}
	return ret
}

// ListOutputs queries every connector of the device. Connectors that
// cannot be queried are logged and skipped. The CRTC snapshot of each
// bindable output is captured here, before anything is modified.
func (h *Handle) ListOutputs(ctx context.Context) ([]*Output, error) {
	res, err := h.Resources()
	if err != nil {
		return nil, err
	}

	found := make([]*Output, len(res.Connectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.DiscoveryWorkers)
	for i, id := range res.Connectors {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found[i] = h.discover(id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outs := make([]*Output, 0, len(found))
	driven := map[uint32]*Output{}
	for _, o := range found {
		if o == nil {
			continue
		}
		if o.crtcID != 0 {
			// cloned outputs: only the first connector drives the CRTC,
			// the others are handed back to it on restore
			if other, ok := driven[o.crtcID]; ok {
				h.log.Info("crtc already used by another connector",
					"connector", o.conn.ID, "crtc", o.crtcID, "other", other.conn.ID)
				other.clones = append(other.clones, o.conn.ID)
				o.crtcID = 0
				o.saved = nil
				o.state = Discovered
			} else {
				driven[o.crtcID] = o
			}
		}
		outs = append(outs, o)
	}
	return outs, nil
}

func (h *Handle) discover(id uint32) *Output {
	var conn *mode.Connector
	err := h.query(func(dev Device) (err error) {
		conn, err = dev.Connector(id)
		return err
	})
	if err != nil {
		h.log.Warn("failed to get connector, skipping", "connector", id, "err", err)
		return nil
	}

	o := &Output{h: h, conn: conn}
	if conn.Connection != mode.Connected {
		h.log.Debug("ignoring unused connector", "connector", conn.ID, "status", conn.Connection)
		return o
	}
	if len(conn.Modes) == 0 {
		h.log.Warn("connected connector reports no modes", "connector", conn.ID)
		return o
	}
	o.mode = conn.Modes[0]
	o.hasMode = true
	h.log.Debug("selected mode", "connector", conn.ID, "mode", o.mode.String())

	encID := conn.EncoderID
	if encID == 0 && len(conn.Encoders) > 0 {
		encID = conn.Encoders[0]
	}
	if encID == 0 {
		h.log.Info("connector has no encoder", "connector", conn.ID)
		return o
	}

	var enc *mode.Encoder
	err = h.query(func(dev Device) (err error) {
		enc, err = dev.Encoder(encID)
		return err
	})
	if err != nil {
		h.log.Warn("failed to get encoder", "connector", conn.ID, "encoder", encID, "err", err)
		return o
	}
	o.encoderID = enc.ID
	if enc.CrtcID == 0 {
		h.log.Info("connector is not driven by a crtc", "connector", conn.ID, "encoder", enc.ID)
		return o
	}
	o.crtcID = enc.CrtcID

	if err := o.CaptureSnapshot(); err != nil {
		h.log.Warn("failed to capture crtc state", "connector", conn.ID, "crtc", o.crtcID, "err", err)
	}
	return o
}

// CaptureCrtc reads the current configuration of a CRTC.
func (h *Handle) CaptureCrtc(id uint32) (*CrtcState, error) {
	var crtc *mode.Crtc
	err := h.query(func(dev Device) (err error) {
		crtc, err = dev.Crtc(id)
		return err
	})
	if err != nil {
		return nil, &Error{Op: fmt.Sprintf("get crtc %d", id), Kind: ErrResourceQueryFailed, Err: err}
	}
	return &CrtcState{
		ID:        crtc.ID,
		BufferID:  crtc.BufferID,
		X:         crtc.X,
		Y:         crtc.Y,
		ModeValid: crtc.ModeValid != 0,
		Mode:      crtc.Mode,
	}, nil
}

// CaptureSnapshot saves the current state of the output's CRTC so it
// can be restored later. It cannot be called while the output is
// bound, the snapshot would then describe our own framebuffer.
func (o *Output) CaptureSnapshot() error {
	if o.released {
		return precondition("capture connector %d: output released", o.conn.ID)
	}
	if o.state == Bound {
		return precondition("capture connector %d: output is bound", o.conn.ID)
	}
	if o.crtcID == 0 {
		return precondition("capture connector %d: no crtc", o.conn.ID)
	}
	s, err := o.h.CaptureCrtc(o.crtcID)
	if err != nil {
		return err
	}
	o.saved = s
	o.state = SnapshotCaptured
	return nil
}

func (o *Output) release() {
	o.released = true
	o.fb = nil
}

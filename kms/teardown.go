package kms

import (
	"context"
	"fmt"
	"strings"
)

// Step is one stage of a Teardown, in the order they run.
type Step int

const (
	StepUnmap Step = iota + 1
	StepRemoveFramebuffer
	StepDestroyBuffer
	StepRestore
	StepReleaseOutputs
	StepClose
)

func (s Step) String() string {
	switch s {
	case StepUnmap:
		return "unmap"
	case StepRemoveFramebuffer:
		return "remove framebuffer"
	case StepDestroyBuffer:
		return "destroy buffer"
	case StepRestore:
		return "restore crtc"
	case StepReleaseOutputs:
		return "release outputs"
	case StepClose:
		return "close device"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

type StepFailure struct {
	Step   Step
	Target string
	Err    error
}

// TeardownError lists every failed step, in step order.
type TeardownError struct {
	Failures []StepFailure
}

func (e *TeardownError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("%s %s: %s", f.Step, f.Target, f.Err)
	}
	return fmt.Sprintf("teardown: %d step(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *TeardownError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Teardown records acquired resources and releases them in reverse.
// Any slot may be empty or already released. The zero value is ready
// to use.
type Teardown struct {
	handle  *Handle
	outputs []*Output
	fbs     []*Framebuffer
	bufs    []*Buffer
}

func (t *Teardown) TrackHandle(h *Handle) {
	if h != nil {
		t.handle = h
	}
}

func (t *Teardown) TrackOutput(o *Output) {
	if o != nil {
		t.outputs = append(t.outputs, o)
	}
}

func (t *Teardown) TrackFramebuffer(fb *Framebuffer) {
	if fb != nil {
		t.fbs = append(t.fbs, fb)
	}
}

func (t *Teardown) TrackBuffer(b *Buffer) {
	if b != nil {
		t.bufs = append(t.bufs, b)
	}
}

// Run unmaps buffers, removes framebuffers, destroys buffers, restores
// CRTCs, releases outputs and closes the handle. A failing step does not
// stop the ones after it. Running again only retries what failed.
func (t *Teardown) Run(ctx context.Context) error {
	var failures []StepFailure
	fail := func(step Step, target string, err error) {
		failures = append(failures, StepFailure{Step: step, Target: target, Err: err})
		if t.handle != nil {
			t.handle.log.Error("teardown step failed", "step", step.String(), "target", target, "err", err)
		}
	}

	for i := len(t.bufs) - 1; i >= 0; i-- {
		b := t.bufs[i]
		if err := b.Unmap(); err != nil {
			fail(StepUnmap, bufTarget(b), err)
		}
	}
	for i := len(t.fbs) - 1; i >= 0; i-- {
		fb := t.fbs[i]
		if err := fb.Remove(); err != nil {
			fail(StepRemoveFramebuffer, fmt.Sprintf("fb %d", fb.id), err)
		}
	}
	for i := len(t.bufs) - 1; i >= 0; i-- {
		b := t.bufs[i]
		if b.Destroyed() {
			continue
		}
		if err := b.Destroy(); err != nil {
			fail(StepDestroyBuffer, bufTarget(b), err)
		}
	}
	for i := len(t.outputs) - 1; i >= 0; i-- {
		o := t.outputs[i]
		if o.State() != Bound {
			continue
		}
		if err := o.h.Restore(ctx, o); err != nil {
			fail(StepRestore, fmt.Sprintf("connector %d", o.conn.ID), err)
		}
	}
	for _, o := range t.outputs {
		o.release()
	}
	if t.handle != nil && !t.handle.Closed() {
		if err := t.handle.Close(); err != nil {
			fail(StepClose, "handle", err)
		}
	}

	if len(failures) == 0 {
		return nil
	}
	return &TeardownError{Failures: failures}
}

func bufTarget(b *Buffer) string {
	return fmt.Sprintf("buffer %d", b.dumb.Handle)
}

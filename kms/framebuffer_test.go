package kms

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/drmkit/internal/log"
	"github.com/NeowayLabs/drmkit/mode"
)

// bindSetup discovers the single output of f and registers a
// framebuffer sized to its mode.
func bindSetup(t *testing.T, f *fakeDevice, cfg Config) (*Handle, *Output, *Framebuffer) {
	t.Helper()
	h, _ := newTestHandle(t, f, cfg)
	outs, err := h.ListOutputs(context.Background())
	require.NoError(t, err)
	bindable := Bindable(outs)
	require.Len(t, bindable, 1)
	o := bindable[0]

	m, _ := o.Mode()
	b, err := h.CreateBuffer(uint32(m.Hdisplay), uint32(m.Vdisplay), 32)
	require.NoError(t, err)
	fb, err := h.AddFramebuffer(b)
	require.NoError(t, err)
	return h, o, fb
}

func TestAddFramebuffer(t *testing.T) {
	f := newFakeDevice()
	h, _ := newTestHandle(t, f, Config{})
	b, err := h.CreateBuffer(1366, 768, 32)
	require.NoError(t, err)

	fb, err := h.AddFramebuffer(b)
	require.NoError(t, err)
	assert.NotZero(t, fb.ID())
	assert.Same(t, b, fb.Buffer())

	require.NoError(t, fb.Remove())
	assert.True(t, fb.Removed())
	require.NoError(t, fb.Remove())
	assert.Equal(t, 1, f.called("RmFB"))
}

func TestAddFramebufferFails(t *testing.T) {
	f := newFakeDevice()
	h, _ := newTestHandle(t, f, Config{})
	b, err := h.CreateBuffer(640, 480, 32)
	require.NoError(t, err)

	f.failures["AddFB"] = 1
	_, err = h.AddFramebuffer(b)
	assert.ErrorIs(t, err, ErrRegisterFailed)

	require.NoError(t, b.Destroy())
	_, err = h.AddFramebuffer(b)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestBindRestore(t *testing.T) {
	f := singleOutput()
	h, o, fb := bindSetup(t, f, Config{})
	before := f.crtc(40)

	require.NoError(t, h.Bind(context.Background(), o, fb))
	assert.Equal(t, Bound, o.State())
	assert.Same(t, fb, o.Framebuffer())
	bound := f.crtc(40)
	assert.Equal(t, fb.ID(), bound.BufferID)
	assert.Equal(t, []uint32{10}, f.crtcConns[40])
	m, _ := o.Mode()
	assert.Equal(t, m, bound.Mode)

	require.NoError(t, h.Restore(context.Background(), o))
	assert.Equal(t, Restored, o.State())
	assert.Nil(t, o.Framebuffer())
	assert.Equal(t, before, f.crtc(40))

	// a restored output may be bound again
	require.NoError(t, h.Bind(context.Background(), o, fb))
	require.NoError(t, h.Restore(context.Background(), o))
	assert.Equal(t, before, f.crtc(40))
}

func TestRestoreDisabledCrtc(t *testing.T) {
	f := singleOutput()
	crtc := f.crtcs[40]
	crtc.BufferID, crtc.ModeValid, crtc.Mode = 0, 0, mode.Info{}
	h, o, fb := bindSetup(t, f, Config{})

	require.NoError(t, h.Bind(context.Background(), o, fb))
	require.NoError(t, h.Restore(context.Background(), o))
	after := f.crtc(40)
	assert.Zero(t, after.BufferID)
	assert.Zero(t, after.ModeValid)
	assert.Empty(t, f.crtcConns[40])
}

func TestBindNotBindable(t *testing.T) {
	f := newFakeDevice()
	f.addConnector(10, 20, 40, mode.Disconnected, testMode(1920, 1080))
	h, _ := newTestHandle(t, f, Config{})
	outs, err := h.ListOutputs(context.Background())
	require.NoError(t, err)
	b, err := h.CreateBuffer(1920, 1080, 32)
	require.NoError(t, err)
	fb, err := h.AddFramebuffer(b)
	require.NoError(t, err)

	err = h.Bind(context.Background(), outs[0], fb)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Zero(t, f.called("SetCrtc"))

	err = h.Bind(context.Background(), nil, fb)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestBindWithoutSnapshot(t *testing.T) {
	f := singleOutput()
	f.failures["Crtc"] = 1
	h, _ := newTestHandle(t, f, Config{})
	outs, err := h.ListOutputs(context.Background())
	require.NoError(t, err)
	require.Len(t, outs, 1)
	o := outs[0]

	b, err := h.CreateBuffer(1920, 1080, 32)
	require.NoError(t, err)
	fb, err := h.AddFramebuffer(b)
	require.NoError(t, err)

	assert.ErrorIs(t, h.Bind(context.Background(), o, fb), ErrPrecondition)
	assert.Zero(t, f.called("SetCrtc"))

	require.NoError(t, o.CaptureSnapshot())
	require.NoError(t, h.Bind(context.Background(), o, fb))
	require.NoError(t, h.Restore(context.Background(), o))
}

func TestBindPreconditions(t *testing.T) {
	f := singleOutput()
	h, o, fb := bindSetup(t, f, Config{})

	require.NoError(t, h.Bind(context.Background(), o, fb))
	assert.ErrorIs(t, h.Bind(context.Background(), o, fb), ErrPrecondition)
	assert.ErrorIs(t, o.CaptureSnapshot(), ErrPrecondition)
	assert.Equal(t, 1, f.called("SetCrtc"))

	require.NoError(t, h.Restore(context.Background(), o))
	assert.ErrorIs(t, h.Restore(context.Background(), o), ErrPrecondition)

	require.NoError(t, fb.Remove())
	assert.ErrorIs(t, h.Bind(context.Background(), o, fb), ErrPrecondition)
}

func TestRestoreClonedConnectors(t *testing.T) {
	f := newFakeDevice()
	f.addConnector(10, 20, 40, mode.Connected, testMode(1920, 1080))
	f.addConnector(11, 21, 40, mode.Connected, testMode(1920, 1080))
	f.crtcConns[40] = []uint32{10, 11}
	h, o, fb := bindSetup(t, f, Config{})

	require.NoError(t, h.Bind(context.Background(), o, fb))
	assert.Equal(t, []uint32{10}, f.crtcConns[40])

	require.NoError(t, h.Restore(context.Background(), o))
	assert.Equal(t, []uint32{10, 11}, f.crtcConns[40])
	assert.Equal(t, uint32(consoleFB), f.crtc(40).BufferID)
}

func TestBindOtherHandle(t *testing.T) {
	_, o, fb := bindSetup(t, singleOutput(), Config{})
	other, _ := newTestHandle(t, singleOutput(), Config{})

	assert.ErrorIs(t, other.Bind(context.Background(), o, fb), ErrPrecondition)
}

func TestBindFailureRestores(t *testing.T) {
	f := singleOutput()
	h, o, fb := bindSetup(t, f, Config{})
	before := f.crtc(40)

	f.failures["SetCrtc"] = 1
	err := h.Bind(context.Background(), o, fb)
	assert.ErrorIs(t, err, ErrBindFailed)
	assert.ErrorIs(t, err, unix.EINVAL)
	assert.NotErrorIs(t, err, ErrRestoreFailed)
	assert.Equal(t, Restored, o.State())
	assert.Equal(t, 2, f.called("SetCrtc"))
	assert.Equal(t, before, f.crtc(40))
}

func TestRestoreRetried(t *testing.T) {
	f := singleOutput()
	h, o, fb := bindSetup(t, f, Config{})
	before := f.crtc(40)
	require.NoError(t, h.Bind(context.Background(), o, fb))

	f.failures["SetCrtc"] = 1
	require.NoError(t, h.Restore(context.Background(), o))
	assert.Equal(t, 3, f.called("SetCrtc"))
	assert.Equal(t, before, f.crtc(40))
}

func TestRestoreFailsFatal(t *testing.T) {
	f := singleOutput()
	var logs bytes.Buffer
	h, o, fb := bindSetup(t, f, Config{Logger: log.New(&logs, false)})
	require.NoError(t, h.Bind(context.Background(), o, fb))

	f.failures["SetCrtc"] = restoreAttempts
	err := h.Restore(context.Background(), o)
	assert.ErrorIs(t, err, ErrRestoreFailed)
	assert.Equal(t, Bound, o.State())
	assert.Equal(t, 1+restoreAttempts, f.called("SetCrtc"))
	assert.Contains(t, logs.String(), "level=FATAL")
	assert.Contains(t, logs.String(), "failed to restore crtc, retrying")

	// the output stays bound, restore can be attempted again
	require.NoError(t, h.Restore(context.Background(), o))
}

func TestBindTimeout(t *testing.T) {
	f := singleOutput()
	h, o, fb := bindSetup(t, f, Config{CrtcTimeout: 20 * time.Millisecond})
	f.setCrtcDelay = 200 * time.Millisecond

	start := time.Now()
	err := h.Bind(context.Background(), o, fb)
	assert.ErrorIs(t, err, ErrBindFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBindCancelled(t *testing.T) {
	f := singleOutput()
	h, o, fb := bindSetup(t, f, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Bind(ctx, o, fb)
	assert.ErrorIs(t, err, ErrBindFailed)
	assert.ErrorIs(t, err, context.Canceled)
	// only the best-effort restore reached the device
	assert.Equal(t, 1, f.called("SetCrtc"))
	assert.Equal(t, Restored, o.State())
}

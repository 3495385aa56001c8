package kms

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NeowayLabs/drmkit"
	"github.com/NeowayLabs/drmkit/internal/log"
	"github.com/NeowayLabs/drmkit/mode"
)

const (
	DefaultCrtcTimeout = 5 * time.Second
)

// Config is passed explicitly to Open; nothing in this package reads
// process-wide state.
type Config struct {
	// Capability must be reported non-zero by the device.
	// Zero means drmkit.CapDumbBuffer.
	Capability uint64

	// ClientCaps are set right after negotiation. Failures are logged
	// and otherwise ignored.
	ClientCaps map[uint64]uint64

	Logger *slog.Logger

	// CrtcTimeout bounds every CRTC configuration call.
	CrtcTimeout time.Duration

	// DiscoveryWorkers is the number of connectors queried in parallel.
	DiscoveryWorkers int
}

func (c Config) withDefaults() Config {
	if c.Capability == 0 {
		c.Capability = drmkit.CapDumbBuffer
	}
	if c.CrtcTimeout <= 0 {
		c.CrtcTimeout = DefaultCrtcTimeout
	}
	if c.DiscoveryWorkers < 1 {
		c.DiscoveryWorkers = 1
	}
	c.Logger = log.OrDiscard(c.Logger)
	return c
}

// Handle owns a Device after capability negotiation. It must outlive
// every Buffer, Framebuffer and Output created from it.
//
// Read-only queries may run concurrently with each other; calls that
// change device state are serialized.
type Handle struct {
	dev  Device
	cfg  Config
	log  *slog.Logger
	caps map[uint64]uint64

	mu     sync.RWMutex
	master bool
	closed bool
}

// Open opens the device at path and negotiates cfg.Capability.
func Open(path string, cfg Config) (*Handle, error) {
	card, err := OpenCard(path)
	if err != nil {
		return nil, &Error{Op: "open " + path, Kind: ErrOpenFailed, Err: err}
	}
	return NewHandle(card, cfg)
}

// NewHandle takes ownership of dev. If the required capability is not
// supported dev is closed before the error is returned.
func NewHandle(dev Device, cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()
	val, err := dev.GetCap(cfg.Capability)
	if err != nil || val == 0 {
		if cerr := dev.Close(); cerr != nil {
			cfg.Logger.Warn("failed to close device", "err", cerr)
		}
		cfg.Logger.Warn("device does not support requested capability",
			"cap", cfg.Capability, "value", val, "err", err)
		return nil, &Error{
			Op:   fmt.Sprintf("get cap %d", cfg.Capability),
			Kind: ErrCapabilityUnsupported,
			Err:  err,
		}
	}

	h := &Handle{
		dev:  dev,
		cfg:  cfg,
		log:  cfg.Logger,
		caps: map[uint64]uint64{cfg.Capability: val},
	}
	for cap, v := range cfg.ClientCaps {
		if err := dev.SetClientCap(cap, v); err != nil {
			h.log.Warn("failed to set client cap", "cap", cap, "value", v, "err", err)
		}
	}
	return h, nil
}

// RequireMaster reports whether the process is DRM master of a KMS
// device. With override the check is logged and bypassed; this is only
// meant for diagnostics, mode setting will likely fail with EACCES.
// A closed handle never passes, not even with override.
// When it returns false the caller is expected to Close the handle.
func (h *Handle) RequireMaster(override bool) bool {
	var master, isKMS bool
	err := h.query(func(dev Device) error {
		master = dev.IsMaster()
		isKMS = dev.IsKMS()
		return nil
	})
	if err != nil {
		h.log.Error("failed to check mastership", "err", err)
		return false
	}
	h.mu.Lock()
	h.master = master
	h.mu.Unlock()

	if override {
		if !master || !isKMS {
			h.log.Warn("master check overridden", "master", master, "kms", isKMS)
		}
		return true
	}
	if !master || !isKMS {
		h.log.Error("not master of device or device is not KMS", "master", master, "kms", isKMS)
		return false
	}
	return true
}

// Master returns the result of the last RequireMaster probe.
func (h *Handle) Master() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.master
}

// Cap returns a negotiated capability value.
func (h *Handle) Cap(cap uint64) (uint64, bool) {
	v, ok := h.caps[cap]
	return v, ok
}

// Device returns the underlying device for read-only inspection.
func (h *Handle) Device() Device { return h.dev }

func (h *Handle) Version() (drmkit.Version, error) {
	var v drmkit.Version
	err := h.query(func(dev Device) (err error) {
		v, err = dev.Version()
		return err
	})
	return v, err
}

// Resources returns the global id lists of the device.
func (h *Handle) Resources() (*mode.Resources, error) {
	var res *mode.Resources
	err := h.query(func(dev Device) (err error) {
		res, err = dev.Resources()
		return err
	})
	if err != nil {
		return nil, &Error{Op: "get resources", Kind: ErrResourceQueryFailed, Err: err}
	}
	return res, nil
}

// Planes returns every plane that could be queried; planes that fail
// are logged and skipped.
func (h *Handle) Planes() ([]*mode.Plane, error) {
	var ids []uint32
	err := h.query(func(dev Device) (err error) {
		ids, err = dev.Planes()
		return err
	})
	if err != nil {
		return nil, &Error{Op: "get plane resources", Kind: ErrResourceQueryFailed, Err: err}
	}
	planes := make([]*mode.Plane, 0, len(ids))
	for _, id := range ids {
		var p *mode.Plane
		err := h.query(func(dev Device) (err error) {
			p, err = dev.Plane(id)
			return err
		})
		if err != nil {
			h.log.Warn("skipping plane", "plane", id, "err", err)
			continue
		}
		planes = append(planes, p)
	}
	return planes, nil
}

// Close closes the device. Closing twice is a programming error and
// is reported as ErrPrecondition.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return precondition("close: handle already closed")
	}
	h.closed = true
	if err := h.dev.Close(); err != nil {
		return &Error{Op: "close", Kind: ErrDestroyFailed, Err: err}
	}
	return nil
}

func (h *Handle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Handle) query(fn func(Device) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return precondition("use of closed handle")
	}
	return fn(h.dev)
}

func (h *Handle) mutate(fn func(Device) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return precondition("use of closed handle")
	}
	return fn(h.dev)
}

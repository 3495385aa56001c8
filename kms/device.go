package kms

import (
	"os"

	"launchpad.net/gommap"

	"github.com/NeowayLabs/drmkit"
	"github.com/NeowayLabs/drmkit/mode"
)

// Device is the kernel boundary: the DRM requests the lifecycle needs.
// Implementations are not required to be safe for concurrent use;
// Handle serializes mutating calls.
type Device interface {
	Close() error

	Version() (drmkit.Version, error)
	GetCap(cap uint64) (uint64, error)
	SetClientCap(cap, val uint64) error
	IsMaster() bool
	IsKMS() bool

	Resources() (*mode.Resources, error)
	Connector(id uint32) (*mode.Connector, error)
	Encoder(id uint32) (*mode.Encoder, error)
	Crtc(id uint32) (*mode.Crtc, error)
	Planes() ([]uint32, error)
	Plane(id uint32) (*mode.Plane, error)
	SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, m *mode.Info) error

	CreateDumb(width, height, bpp uint32) (*mode.Dumb, error)
	MapDumb(handle uint32) (uint64, error)
	DestroyDumb(handle uint32) error
	AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error)
	RmFB(id uint32) error

	// Mmap maps length bytes of the device at the fake offset returned
	// by MapDumb, shared and read/write.
	Mmap(offset, length uint64) ([]byte, error)
	Munmap(data []byte) error
}

// Card is a Device backed by an open DRM node.
type Card struct {
	file *os.File
}

var _ Device = (*Card)(nil)

// OpenCard opens the DRM node at path, close-on-exec.
func OpenCard(path string) (*Card, error) {
	file, err := drmkit.Open(path)
	if err != nil {
		return nil, err
	}
	return &Card{file: file}, nil
}

func (c *Card) File() *os.File { return c.file }

func (c *Card) Close() error { return c.file.Close() }

func (c *Card) Version() (drmkit.Version, error) { return drmkit.GetVersion(c.file) }

func (c *Card) GetCap(cap uint64) (uint64, error) { return drmkit.GetCap(c.file, cap) }

func (c *Card) SetClientCap(cap, val uint64) error { return drmkit.SetClientCap(c.file, cap, val) }

func (c *Card) IsMaster() bool { return drmkit.IsMaster(c.file) }

func (c *Card) IsKMS() bool { return drmkit.IsKMS(c.file) }

func (c *Card) Resources() (*mode.Resources, error) { return mode.GetResources(c.file) }

func (c *Card) Connector(id uint32) (*mode.Connector, error) { return mode.GetConnector(c.file, id) }

func (c *Card) Encoder(id uint32) (*mode.Encoder, error) { return mode.GetEncoder(c.file, id) }

func (c *Card) Crtc(id uint32) (*mode.Crtc, error) { return mode.GetCrtc(c.file, id) }

func (c *Card) Planes() ([]uint32, error) { return mode.GetPlaneResources(c.file) }

func (c *Card) Plane(id uint32) (*mode.Plane, error) { return mode.GetPlane(c.file, id) }

func (c *Card) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, m *mode.Info) error {
	return mode.SetCrtc(c.file, crtcID, fbID, x, y, connectors, m)
}

func (c *Card) CreateDumb(width, height, bpp uint32) (*mode.Dumb, error) {
	return mode.CreateDumb(c.file, width, height, bpp)
}

func (c *Card) MapDumb(handle uint32) (uint64, error) { return mode.MapDumb(c.file, handle) }

func (c *Card) DestroyDumb(handle uint32) error { return mode.DestroyDumb(c.file, handle) }

func (c *Card) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	return mode.AddFB(c.file, width, height, depth, bpp, pitch, handle)
}

func (c *Card) RmFB(id uint32) error { return mode.RmFB(c.file, id) }

func (c *Card) Mmap(offset, length uint64) ([]byte, error) {
	mmap, err := gommap.MapAt(0, c.file.Fd(), int64(offset), int64(length),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return mmap, nil
}

func (c *Card) Munmap(data []byte) error {
	return gommap.MMap(data).UnsafeUnmap()
}

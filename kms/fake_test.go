package kms

import (
	"bytes"
	"sync"
	"testing"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/drmkit"
	"github.com/NeowayLabs/drmkit/internal/log"
	"github.com/NeowayLabs/drmkit/mode"
)

// consoleFB is the framebuffer CRTCs show before the tests touch them.
const consoleFB = 77

// fakeDevice emulates the DRM requests of a card with dumb buffers.
type fakeDevice struct {
	mu sync.Mutex

	caps       map[uint64]uint64
	capErr     error
	clientCaps map[uint64]uint64
	master     bool
	kms        bool

	connectorIDs []uint32
	connectors   map[uint32]*mode.Connector
	encoders     map[uint32]*mode.Encoder
	crtcs        map[uint32]*mode.Crtc
	crtcConns    map[uint32][]uint32

	pitchAlign uint32
	nextHandle uint32
	dumbs      map[uint32]*mode.Dumb
	nextFB     uint32
	fbs        map[uint32]uint32
	mappings   map[*byte]uint64

	// remaining scripted failures per request name
	failures     map[string]int
	setCrtcDelay time.Duration

	closed int
	calls  []string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		caps:       map[uint64]uint64{drmkit.CapDumbBuffer: 1},
		clientCaps: map[uint64]uint64{},
		master:     true,
		kms:        true,
		connectors: map[uint32]*mode.Connector{},
		encoders:   map[uint32]*mode.Encoder{},
		crtcs:      map[uint32]*mode.Crtc{},
		crtcConns:  map[uint32][]uint32{},
		pitchAlign: 256,
		nextHandle: 1,
		dumbs:      map[uint32]*mode.Dumb{},
		nextFB:     100,
		fbs:        map[uint32]uint32{consoleFB: 0},
		mappings:   map[*byte]uint64{},
		failures:   map[string]int{},
	}
}

func testMode(w, h uint16) mode.Info {
	m := mode.Info{Hdisplay: w, Vdisplay: h, Vrefresh: 60, Type: mode.TypeDriver}
	copy(m.Name[:], "test")
	return m
}

// addConnector registers a connector. A non-zero encID creates the
// encoder, a non-zero crtcID creates a CRTC showing consoleFB.
func (f *fakeDevice) addConnector(connID, encID, crtcID uint32, status mode.Connection, modes ...mode.Info) *mode.Connector {
	conn := &mode.Connector{
		ID:         connID,
		EncoderID:  encID,
		Type:       11,
		TypeID:     connID,
		Connection: status,
		Modes:      modes,
	}
	if encID != 0 {
		conn.Encoders = []uint32{encID}
		f.encoders[encID] = &mode.Encoder{ID: encID, CrtcID: crtcID}
	}
	if crtcID != 0 {
		if _, ok := f.crtcs[crtcID]; !ok {
			crtc := &mode.Crtc{ID: crtcID, BufferID: consoleFB, X: 0, Y: 0, ModeValid: 1}
			if len(modes) > 0 {
				crtc.Mode = modes[0]
			}
			f.crtcs[crtcID] = crtc
		}
	}
	f.connectorIDs = append(f.connectorIDs, connID)
	f.connectors[connID] = conn
	return conn
}

func (f *fakeDevice) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failures[call] > 0 {
		f.failures[call]--
		return unix.EINVAL
	}
	return nil
}

func (f *fakeDevice) called(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeDevice) crtc(id uint32) mode.Crtc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.crtcs[id]
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.record("Close")
}

func (f *fakeDevice) Version() (drmkit.Version, error) {
	return drmkit.Version{Major: 1, Minor: 0, Patch: 0, Name: "fake", Date: "20240101", Desc: "fake drm"}, nil
}

func (f *fakeDevice) GetCap(cap uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetCap"); err != nil {
		return 0, err
	}
	if f.capErr != nil {
		return 0, f.capErr
	}
	return f.caps[cap], nil
}

func (f *fakeDevice) SetClientCap(cap, val uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetClientCap"); err != nil {
		return err
	}
	f.clientCaps[cap] = val
	return nil
}

func (f *fakeDevice) IsMaster() bool { return f.master }

func (f *fakeDevice) IsKMS() bool { return f.kms }

func (f *fakeDevice) Resources() (*mode.Resources, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Resources"); err != nil {
		return nil, err
	}
	res := &mode.Resources{Connectors: append([]uint32(nil), f.connectorIDs...)}
	for id := range f.crtcs {
		res.Crtcs = append(res.Crtcs, id)
	}
	for id := range f.encoders {
		res.Encoders = append(res.Encoders, id)
	}
	res.CountConnectors = uint32(len(res.Connectors))
	res.CountCrtcs = uint32(len(res.Crtcs))
	res.CountEncoders = uint32(len(res.Encoders))
	return res, nil
}

func (f *fakeDevice) Connector(id uint32) (*mode.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Connector"); err != nil {
		return nil, err
	}
	conn, ok := f.connectors[id]
	if !ok {
		return nil, unix.ENOENT
	}
	c := *conn
	return &c, nil
}

func (f *fakeDevice) Encoder(id uint32) (*mode.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Encoder"); err != nil {
		return nil, err
	}
	enc, ok := f.encoders[id]
	if !ok {
		return nil, unix.ENOENT
	}
	e := *enc
	return &e, nil
}

func (f *fakeDevice) Crtc(id uint32) (*mode.Crtc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Crtc"); err != nil {
		return nil, err
	}
	crtc, ok := f.crtcs[id]
	if !ok {
		return nil, unix.ENOENT
	}
	c := *crtc
	return &c, nil
}

func (f *fakeDevice) Planes() ([]uint32, error) {
	return []uint32{31, 32}, nil
}

func (f *fakeDevice) Plane(id uint32) (*mode.Plane, error) {
	if id == 32 {
		return nil, unix.ENOENT
	}
	return &mode.Plane{ID: id, PossibleCrtcs: 1, Formats: []uint32{0x34325258}}, nil
}

func (f *fakeDevice) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, m *mode.Info) error {
	time.Sleep(f.setCrtcDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetCrtc"); err != nil {
		return err
	}
	crtc, ok := f.crtcs[crtcID]
	if !ok {
		return unix.ENOENT
	}
	if _, ok := f.fbs[fbID]; fbID != 0 && !ok {
		return unix.ENOENT
	}
	if m == nil && len(connectors) > 0 {
		return unix.EINVAL
	}
	crtc.BufferID = fbID
	crtc.X, crtc.Y = x, y
	crtc.ModeValid = 0
	crtc.Mode = mode.Info{}
	if m != nil {
		crtc.ModeValid = 1
		crtc.Mode = *m
	}
	f.crtcConns[crtcID] = append([]uint32(nil), connectors...)
	return nil
}

func (f *fakeDevice) CreateDumb(width, height, bpp uint32) (*mode.Dumb, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateDumb"); err != nil {
		return nil, err
	}
	if width > 16384 || height > 16384 {
		return nil, unix.EINVAL
	}
	pitch := (width*((bpp+7)/8) + f.pitchAlign - 1) / f.pitchAlign * f.pitchAlign
	d := &mode.Dumb{
		Width:  width,
		Height: height,
		BPP:    bpp,
		Handle: f.nextHandle,
		Pitch:  pitch,
		Size:   uint64(pitch) * uint64(height),
	}
	f.nextHandle++
	f.dumbs[d.Handle] = d
	ret := *d
	return &ret, nil
}

func (f *fakeDevice) MapDumb(handle uint32) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("MapDumb"); err != nil {
		return 0, err
	}
	if _, ok := f.dumbs[handle]; !ok {
		return 0, unix.ENOENT
	}
	return uint64(handle) << 12, nil
}

func (f *fakeDevice) DestroyDumb(handle uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DestroyDumb"); err != nil {
		return err
	}
	if _, ok := f.dumbs[handle]; !ok {
		return unix.ENOENT
	}
	delete(f.dumbs, handle)
	return nil
}

func (f *fakeDevice) AddFB(width, height uint32, depth, bpp uint8, pitch, handle uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddFB"); err != nil {
		return 0, err
	}
	d, ok := f.dumbs[handle]
	if !ok {
		return 0, unix.ENOENT
	}
	if d.Width != width || d.Height != height || d.Pitch != pitch || uint32(bpp) != d.BPP || depth != 24 {
		return 0, unix.EINVAL
	}
	id := f.nextFB
	f.nextFB++
	f.fbs[id] = handle
	return id, nil
}

func (f *fakeDevice) RmFB(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RmFB"); err != nil {
		return err
	}
	if _, ok := f.fbs[id]; !ok {
		return unix.ENOENT
	}
	delete(f.fbs, id)
	// like the kernel, removing a scanned out framebuffer disables the CRTC
	for _, crtc := range f.crtcs {
		if crtc.BufferID == id {
			crtc.BufferID = 0
			crtc.ModeValid = 0
			crtc.Mode = mode.Info{}
		}
	}
	return nil
}

func (f *fakeDevice) Mmap(offset, length uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Mmap"); err != nil {
		return nil, err
	}
	d, ok := f.dumbs[uint32(offset>>12)]
	if !ok || length > d.Size || length == 0 {
		return nil, unix.EINVAL
	}
	data := make([]byte, length)
	f.mappings[unsafe.SliceData(data)] = offset
	return data, nil
}

func (f *fakeDevice) Munmap(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Munmap"); err != nil {
		return err
	}
	p := unsafe.SliceData(data)
	if _, ok := f.mappings[p]; !ok {
		return unix.EINVAL
	}
	delete(f.mappings, p)
	return nil
}

func (f *fakeDevice) liveMappings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mappings)
}

func (f *fakeDevice) liveDumbs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dumbs)
}

// newTestHandle returns a handle over f logging into the returned buffer.
func newTestHandle(t *testing.T, f *fakeDevice, cfg Config) (*Handle, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	if cfg.Logger == nil {
		cfg.Logger = log.New(&buf, true)
	}
	h, err := NewHandle(f, cfg)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return h, &buf
}

// singleOutput is a device with one connected 1920x1080 output on crtc 40.
func singleOutput() *fakeDevice {
	f := newFakeDevice()
	f.addConnector(10, 20, 40, mode.Connected, testMode(1920, 1080))
	return f
}

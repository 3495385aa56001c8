package mode

import (
	"errors"
	"os"
	"runtime"
	"unsafe"

	"github.com/NeowayLabs/drmkit"
	"github.com/NeowayLabs/drmkit/ioctl"
)

const (
	DisplayInfoLen   = 32
	ConnectorNameLen = 32
	DisplayModeLen   = 32
	PropNameLen      = 32

	// attempts to get a consistent snapshot while objects are hotplugged
	maxQueryRetries = 5
)

var errUnstable = errors.New("object list kept changing during query")

type (
	sysResources struct {
		fbIdPtr              uintptr
		crtcIdPtr            uintptr
		connectorIdPtr       uintptr
		encoderIdPtr         uintptr
		CountFbs             uint32
		CountCrtcs           uint32
		CountConnectors      uint32
		CountEncoders        uint32
		MinWidth, MaxWidth   uint32
		MinHeight, MaxHeight uint32
	}

	sysGetConnector struct {
		encodersPtr   uintptr
		modesPtr      uintptr
		propsPtr      uintptr
		propValuesPtr uintptr

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32 // current encoder
		ID              uint32
		connectorType   uint32
		connectorTypeID uint32

		connection        uint32
		mmWidth, mmHeight uint32 // HxW in millimeters
		subpixel          uint32
		pad               uint32
	}

	sysGetEncoder struct {
		id  uint32
		typ uint32

		crtcID uint32

		possibleCrtcs  uint32
		possibleClones uint32
	}

	Info struct {
		Clock                                         uint32
		Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
		Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

		Vrefresh uint32

		Flags uint32
		Type  uint32
		Name  [DisplayModeLen]uint8
	}

	Resources struct {
		CountFbs             uint32
		CountCrtcs           uint32
		CountConnectors      uint32
		CountEncoders        uint32
		MinWidth, MaxWidth   uint32
		MinHeight, MaxHeight uint32

		Fbs        []uint32
		Crtcs      []uint32
		Connectors []uint32
		Encoders   []uint32
	}

	Connector struct {
		ID            uint32
		EncoderID     uint32
		Type          uint32
		TypeID        uint32
		Connection    Connection
		Width, Height uint32 // in millimeters
		Subpixel      uint8

		Modes []Info

		Props      []uint32
		PropValues []uint64

		Encoders []uint32
	}

	Encoder struct {
		ID   uint32
		Type uint32

		CrtcID uint32

		PossibleCrtcs  uint32
		PossibleClones uint32
	}

	sysCreateDumb struct {
		height, width uint32
		bpp           uint32
		flags         uint32

		// returned values
		handle uint32
		pitch  uint32
		size   uint64
	}

	sysMapDumb struct {
		handle uint32 // Handle for the object being mapped
		pad    uint32

		// Fake offset to use for subsequent mmap call
		// This is a fixed-size type for 32/64 compatibility.
		offset uint64
	}

	sysFBCmd struct {
		fbID          uint32
		width, height uint32
		pitch         uint32
		bpp           uint32
		depth         uint32

		/* driver specific handle */
		handle uint32
	}

	sysRmFB struct {
		handle uint32
	}

	sysCrtc struct {
		setConnectorsPtr uintptr
		countConnectors  uint32

		id   uint32
		fbID uint32 // Id of framebuffer

		x, y uint32 // Position on the frameuffer

		gammaSize uint32
		modeValid uint32
		mode      Info
	}

	sysDestroyDumb struct {
		handle uint32
	}

	sysPlaneRes struct {
		planeIDPtr  uintptr
		countPlanes uint32
		pad         uint32
	}

	sysGetPlane struct {
		id               uint32
		crtcID           uint32
		fbID             uint32
		possibleCrtcs    uint32
		gammaSize        uint32
		countFormatTypes uint32
		formatTypePtr    uintptr
	}

	Crtc struct {
		ID       uint32
		BufferID uint32 // FB id to connect to 0 = disconnect

		X, Y          uint32 // Position on the framebuffer
		Width, Height uint32
		ModeValid     int
		Mode          Info

		GammaSize int // Number of gamma stops
	}

	// Dumb describes a dumb buffer as allocated by the kernel.
	// Pitch and Size are chosen by the driver and may include padding.
	Dumb struct {
		Height, Width, BPP, Flags uint32
		Handle                    uint32
		Pitch                     uint32
		Size                      uint64
	}

	Plane struct {
		ID            uint32
		CrtcID        uint32
		FBID          uint32
		PossibleCrtcs uint32
		GammaSize     uint32
		Formats       []uint32
	}
)

var (
	// DRM_IOWR(0xA0, struct drm_mode_card_res)
	IOCTLModeResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysResources{})), drmkit.IOCTLBase, 0xA0)

	// DRM_IOWR(0xA1, struct drm_mode_crtc)
	IOCTLModeGetCrtc = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCrtc{})), drmkit.IOCTLBase, 0xA1)

	// DRM_IOWR(0xA2, struct drm_mode_crtc)
	IOCTLModeSetCrtc = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCrtc{})), drmkit.IOCTLBase, 0xA2)

	// DRM_IOWR(0xA6, struct drm_mode_get_encoder)
	IOCTLModeGetEncoder = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetEncoder{})), drmkit.IOCTLBase, 0xA6)

	// DRM_IOWR(0xA7, struct drm_mode_get_connector)
	IOCTLModeGetConnector = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetConnector{})), drmkit.IOCTLBase, 0xA7)

	// DRM_IOWR(0xAE, struct drm_mode_fb_cmd)
	IOCTLModeAddFB = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysFBCmd{})), drmkit.IOCTLBase, 0xAE)

	// DRM_IOWR(0xAF, unsigned int)
	IOCTLModeRmFB = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(uint32(0))), drmkit.IOCTLBase, 0xAF)

	// DRM_IOWR(0xB2, struct drm_mode_create_dumb)
	IOCTLModeCreateDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCreateDumb{})), drmkit.IOCTLBase, 0xB2)

	// DRM_IOWR(0xB3, struct drm_mode_map_dumb)
	IOCTLModeMapDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysMapDumb{})), drmkit.IOCTLBase, 0xB3)

	// DRM_IOWR(0xB4, struct drm_mode_destroy_dumb)
	IOCTLModeDestroyDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysDestroyDumb{})), drmkit.IOCTLBase, 0xB4)

	// DRM_IOWR(0xB5, struct drm_mode_get_plane_res)
	IOCTLModeGetPlaneResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysPlaneRes{})), drmkit.IOCTLBase, 0xB5)

	// DRM_IOWR(0xB6, struct drm_mode_get_plane)
	IOCTLModeGetPlane = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlane{})), drmkit.IOCTLBase, 0xB6)
)

func ids(n uint32) ([]uint32, uintptr) {
	if n == 0 {
		return nil, 0
	}
	s := make([]uint32, n)
	return s, uintptr(unsafe.Pointer(&s[0]))
}

func GetResources(file *os.File) (*Resources, error) {
	for try := 0; try < maxQueryRetries; try++ {
		mres := &sysResources{}
		err := ioctl.Do(file.Fd(), uintptr(IOCTLModeResources),
			uintptr(unsafe.Pointer(mres)))
		if err != nil {
			return nil, err
		}

		counts := *mres
		fbids, fbPtr := ids(mres.CountFbs)
		crtcids, crtcPtr := ids(mres.CountCrtcs)
		connectorids, connPtr := ids(mres.CountConnectors)
		encoderids, encPtr := ids(mres.CountEncoders)
		mres.fbIdPtr = fbPtr
		mres.crtcIdPtr = crtcPtr
		mres.connectorIdPtr = connPtr
		mres.encoderIdPtr = encPtr

		err = ioctl.Do(file.Fd(), uintptr(IOCTLModeResources),
			uintptr(unsafe.Pointer(mres)))
		runtime.KeepAlive(fbids)
		runtime.KeepAlive(crtcids)
		runtime.KeepAlive(connectorids)
		runtime.KeepAlive(encoderids)
		if err != nil {
			return nil, err
		}

		// something was hotplugged in-between the ioctls above
		if mres.CountFbs > counts.CountFbs || mres.CountCrtcs > counts.CountCrtcs ||
			mres.CountConnectors > counts.CountConnectors || mres.CountEncoders > counts.CountEncoders {
			continue
		}

		return &Resources{
			CountFbs:        mres.CountFbs,
			CountCrtcs:      mres.CountCrtcs,
			CountConnectors: mres.CountConnectors,
			CountEncoders:   mres.CountEncoders,
			MinWidth:        mres.MinWidth,
			MaxWidth:        mres.MaxWidth,
			MinHeight:       mres.MinHeight,
			MaxHeight:       mres.MaxHeight,
			Fbs:             fbids[:mres.CountFbs],
			Crtcs:           crtcids[:mres.CountCrtcs],
			Encoders:        encoderids[:mres.CountEncoders],
			Connectors:      connectorids[:mres.CountConnectors],
		}, nil
	}
	return nil, errUnstable
}

func GetConnector(file *os.File, connid uint32) (*Connector, error) {
	for try := 0; try < maxQueryRetries; try++ {
		conn := &sysGetConnector{}
		conn.ID = connid
		err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetConnector),
			uintptr(unsafe.Pointer(conn)))
		if err != nil {
			return nil, err
		}

		var (
			props, encoders []uint32
			propValues      []uint64
			modes           []Info
		)

		counts := *conn
		if conn.countProps > 0 {
			props = make([]uint32, conn.countProps)
			conn.propsPtr = uintptr(unsafe.Pointer(&props[0]))

			propValues = make([]uint64, conn.countProps)
			conn.propValuesPtr = uintptr(unsafe.Pointer(&propValues[0]))
		}
		if conn.countModes > 0 {
			modes = make([]Info, conn.countModes)
			conn.modesPtr = uintptr(unsafe.Pointer(&modes[0]))
		}
		if conn.countEncoders > 0 {
			encoders = make([]uint32, conn.countEncoders)
			conn.encodersPtr = uintptr(unsafe.Pointer(&encoders[0]))
		}

		err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetConnector),
			uintptr(unsafe.Pointer(conn)))
		runtime.KeepAlive(props)
		runtime.KeepAlive(propValues)
		runtime.KeepAlive(modes)
		runtime.KeepAlive(encoders)
		if err != nil {
			return nil, err
		}

		if conn.countModes > counts.countModes || conn.countProps > counts.countProps ||
			conn.countEncoders > counts.countEncoders {
			continue
		}

		return &Connector{
			ID:         conn.ID,
			EncoderID:  conn.encoderID,
			Connection: Connection(conn.connection),
			Width:      conn.mmWidth,
			Height:     conn.mmHeight,

			// convert subpixel from kernel to userspace */
			Subpixel: uint8(conn.subpixel + 1),
			Type:     conn.connectorType,
			TypeID:   conn.connectorTypeID,

			Props:      props[:conn.countProps],
			PropValues: propValues[:conn.countProps],
			Modes:      modes[:conn.countModes],
			Encoders:   encoders[:conn.countEncoders],
		}, nil
	}
	return nil, errUnstable
}

func GetEncoder(file *os.File, id uint32) (*Encoder, error) {
	encoder := &sysGetEncoder{}
	encoder.id = id

	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetEncoder),
		uintptr(unsafe.Pointer(encoder)))
	if err != nil {
		return nil, err
	}

	return &Encoder{
		ID:             encoder.id,
		CrtcID:         encoder.crtcID,
		Type:           encoder.typ,
		PossibleCrtcs:  encoder.possibleCrtcs,
		PossibleClones: encoder.possibleClones,
	}, nil
}

// CreateDumb allocates a dumb buffer. The returned pitch must be used
// for all addressing, it is not necessarily width*bpp/8.
func CreateDumb(file *os.File, width, height, bpp uint32) (*Dumb, error) {
	fb := &sysCreateDumb{}
	fb.width = width
	fb.height = height
	fb.bpp = bpp
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeCreateDumb),
		uintptr(unsafe.Pointer(fb)))
	if err != nil {
		return nil, err
	}
	return &Dumb{
		Height: fb.height,
		Width:  fb.width,
		BPP:    fb.bpp,
		Flags:  fb.flags,
		Handle: fb.handle,
		Pitch:  fb.pitch,
		Size:   fb.size,
	}, nil
}

func AddFB(file *os.File, width, height uint32,
	depth, bpp uint8, pitch, boHandle uint32) (uint32, error) {
	f := &sysFBCmd{}
	f.width = width
	f.height = height
	f.pitch = pitch
	f.bpp = uint32(bpp)
	f.depth = uint32(depth)
	f.handle = boHandle
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeAddFB),
		uintptr(unsafe.Pointer(f)))
	if err != nil {
		return 0, err
	}
	return f.fbID, nil
}

func RmFB(file *os.File, bufferid uint32) error {
	return ioctl.Do(file.Fd(), uintptr(IOCTLModeRmFB),
		uintptr(unsafe.Pointer(&sysRmFB{bufferid})))
}

// MapDumb returns the fake offset to pass to mmap(2) on the device
// descriptor to map the buffer identified by boHandle.
func MapDumb(file *os.File, boHandle uint32) (uint64, error) {
	mreq := &sysMapDumb{}
	mreq.handle = boHandle
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeMapDumb),
		uintptr(unsafe.Pointer(mreq)))
	if err != nil {
		return 0, err
	}
	return mreq.offset, nil
}

func DestroyDumb(file *os.File, handle uint32) error {
	return ioctl.Do(file.Fd(), uintptr(IOCTLModeDestroyDumb),
		uintptr(unsafe.Pointer(&sysDestroyDumb{handle})))
}

func GetCrtc(file *os.File, id uint32) (*Crtc, error) {
	crtc := &sysCrtc{}
	crtc.id = id
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetCrtc),
		uintptr(unsafe.Pointer(crtc)))
	if err != nil {
		return nil, err
	}
	ret := &Crtc{
		ID:        crtc.id,
		X:         crtc.x,
		Y:         crtc.y,
		ModeValid: int(crtc.modeValid),
		BufferID:  crtc.fbID,
		GammaSize: int(crtc.gammaSize),
	}

	ret.Mode = crtc.mode
	ret.Width = uint32(crtc.mode.Hdisplay)
	ret.Height = uint32(crtc.mode.Vdisplay)
	return ret, nil
}

// SetCrtc programs crtcid to scan out bufferid at (x, y) on the given
// connectors. A nil mode leaves the mode invalid, which together with
// a zero bufferid disables the CRTC.
func SetCrtc(file *os.File, crtcid, bufferid, x, y uint32, connectors []uint32, mode *Info) error {
	crtc := &sysCrtc{}
	crtc.x = x
	crtc.y = y
	crtc.id = crtcid
	crtc.fbID = bufferid
	if len(connectors) > 0 {
		crtc.setConnectorsPtr = uintptr(unsafe.Pointer(&connectors[0]))
	}
	crtc.countConnectors = uint32(len(connectors))
	if mode != nil {
		crtc.mode = *mode
		crtc.modeValid = 1
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeSetCrtc),
		uintptr(unsafe.Pointer(crtc)))
	runtime.KeepAlive(connectors)
	return err
}

// GetPlaneResources lists the plane ids. Without the universal planes
// client capability only overlay planes are reported.
func GetPlaneResources(file *os.File) ([]uint32, error) {
	for try := 0; try < maxQueryRetries; try++ {
		res := &sysPlaneRes{}
		err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlaneResources),
			uintptr(unsafe.Pointer(res)))
		if err != nil {
			return nil, err
		}
		count := res.countPlanes
		planes, ptr := ids(count)
		res.planeIDPtr = ptr

		err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlaneResources),
			uintptr(unsafe.Pointer(res)))
		runtime.KeepAlive(planes)
		if err != nil {
			return nil, err
		}
		if res.countPlanes > count {
			continue
		}
		return planes[:res.countPlanes], nil
	}
	return nil, errUnstable
}

func GetPlane(file *os.File, id uint32) (*Plane, error) {
	plane := &sysGetPlane{id: id}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlane),
		uintptr(unsafe.Pointer(plane)))
	if err != nil {
		return nil, err
	}
	formats, ptr := ids(plane.countFormatTypes)
	if ptr != 0 {
		plane.formatTypePtr = ptr
		err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlane),
			uintptr(unsafe.Pointer(plane)))
		runtime.KeepAlive(formats)
		if err != nil {
			return nil, err
		}
		if int(plane.countFormatTypes) < len(formats) {
			formats = formats[:plane.countFormatTypes]
		}
	}
	return &Plane{
		ID:            plane.id,
		CrtcID:        plane.crtcID,
		FBID:          plane.fbID,
		PossibleCrtcs: plane.possibleCrtcs,
		GammaSize:     plane.gammaSize,
		Formats:       formats,
	}, nil
}

package mode

import (
	"bytes"
	"fmt"
)

// Connection is the connector status reported by the kernel.
type Connection uint32

const (
	Connected         Connection = 1
	Disconnected      Connection = 2
	UnknownConnection Connection = 3
)

func (c Connection) String() string {
	switch c {
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Mode type bits of Info.Type.
const (
	TypeBuiltin   = 1 << 0
	TypePreferred = 1 << 3
	TypeDefault   = 1 << 4
	TypeUserdef   = 1 << 5
	TypeDriver    = 1 << 6
)

var connectorTypes = [...]string{
	"Unknown",
	"VGA",
	"DVI-I",
	"DVI-D",
	"DVI-A",
	"Composite",
	"SVIDEO",
	"LVDS",
	"Component",
	"9-pin DIN",
	"DisplayPort",
	"HDMI-A",
	"HDMI-B",
	"TV",
	"eDP",
	"Virtual",
	"DSI",
	"DPI",
	"Writeback",
	"SPI",
	"USB",
}

// ConnectorTypeName returns the kernel name of a connector type.
func ConnectorTypeName(typ uint32) string {
	if int(typ) < len(connectorTypes) {
		return connectorTypes[typ]
	}
	return connectorTypes[0]
}

// Name returns the name the kernel uses for c, e.g. HDMI-A-1.
func (c *Connector) Name() string {
	return fmt.Sprintf("%s-%d", ConnectorTypeName(c.Type), c.TypeID)
}

// ModeName returns the driver supplied name of the mode, eg.: 1920x1080.
func (m *Info) ModeName() string {
	return string(bytes.TrimRight(m.Name[:], "\x00"))
}

func (m *Info) Preferred() bool {
	return m.Type&TypePreferred != 0
}

func (m Info) String() string {
	return fmt.Sprintf("%dx%d@%d", m.Hdisplay, m.Vdisplay, m.Vrefresh)
}

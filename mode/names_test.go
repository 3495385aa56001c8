package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectorName(t *testing.T) {
	c := &Connector{Type: 11, TypeID: 2}
	assert.Equal(t, "HDMI-A-2", c.Name())
	assert.Equal(t, "Unknown", ConnectorTypeName(200))
}

func TestConnectionString(t *testing.T) {
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Unknown", UnknownConnection.String())
}

func TestInfo(t *testing.T) {
	m := Info{Hdisplay: 1920, Vdisplay: 1080, Vrefresh: 60, Type: TypeDriver | TypePreferred}
	copy(m.Name[:], "1920x1080")
	assert.Equal(t, "1920x1080@60", m.String())
	assert.Equal(t, "1920x1080", m.ModeName())
	assert.True(t, m.Preferred())
	assert.False(t, (&Info{Type: TypeDriver}).Preferred())
}

package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMode(w, h uint16, name string) Info {
	info := Info{Hdisplay: w, Vdisplay: h}
	copy(info.Name[:], name)
	return info
}

func TestModesetsRouting(t *testing.T) {
	topo := &Topology{
		Resources: &Resources{Crtcs: []uint32{31, 32}},
		Connectors: []*Connector{
			{
				ID:         41,
				EncoderID:  51,
				Connection: Connected,
				Type:       ConnectorDisplayPort,
				TypeID:     2,
				Modes:      []Info{testMode(1920, 1080, "1920x1080")},
				Encoders:   []uint32{51},
			},
			{
				ID:         42,
				Connection: Disconnected,
				Modes:      []Info{testMode(1024, 768, "1024x768")},
				Encoders:   []uint32{52},
			},
			{
				// currently bound to the CRTC connector 41 already took
				ID:         43,
				EncoderID:  52,
				Connection: Connected,
				Modes:      []Info{testMode(1280, 1024, "1280x1024")},
				Encoders:   []uint32{52},
			},
		},
		Encoders: map[uint32]*Encoder{
			51: {ID: 51, CrtcID: 31, PossibleCrtcs: 0x3},
			52: {ID: 52, CrtcID: 31, PossibleCrtcs: 0x3},
		},
	}

	sets := topo.Modesets()
	require.Len(t, sets, 2)

	assert.Equal(t, uint32(41), sets[0].Conn)
	assert.Equal(t, uint32(31), sets[0].Crtc)
	assert.Equal(t, 0, sets[0].Pipe)
	assert.Equal(t, uint16(1920), sets[0].Width)
	assert.Equal(t, "DP-2", sets[0].Name)
	assert.Len(t, sets[0].Modes, 1)

	assert.Equal(t, uint32(43), sets[1].Conn)
	assert.Equal(t, uint32(32), sets[1].Crtc)
	assert.Equal(t, 1, sets[1].Pipe)
	assert.Equal(t, "1280x1024", sets[1].Mode.ModeName())
}

func TestModesetsSkipsConnectorWithoutFreeCrtc(t *testing.T) {
	topo := &Topology{
		Resources: &Resources{Crtcs: []uint32{31}},
		Connectors: []*Connector{
			{ID: 41, Connection: Connected, Modes: []Info{testMode(800, 600, "")}, Encoders: []uint32{51}},
			{ID: 42, Connection: Connected, Modes: []Info{testMode(800, 600, "")}, Encoders: []uint32{51}},
			{ID: 44, Connection: Connected, Encoders: []uint32{51}},
		},
		Encoders: map[uint32]*Encoder{
			51: {ID: 51, PossibleCrtcs: 0x1},
		},
	}

	sets := topo.Modesets()
	require.Len(t, sets, 1)
	assert.Equal(t, uint32(41), sets[0].Conn)
}

func TestInfoFlags(t *testing.T) {
	info := testMode(1024, 768, "1024x768")
	assert.False(t, info.DoubleScan())
	info.Flags |= FlagDblScan
	assert.True(t, info.DoubleScan())
	assert.Equal(t, "1024x768", info.ModeName())
}

func TestConnectorName(t *testing.T) {
	assert.Equal(t, "HDMI-A-1", (&Connector{Type: ConnectorHDMIA, TypeID: 1}).Name())
	assert.Equal(t, "eDP-1", (&Connector{Type: ConnectorEDP, TypeID: 1}).Name())
	assert.Equal(t, "Unknown", ConnectorTypeName(200))
}

func TestTopologyConnector(t *testing.T) {
	topo := &Topology{Connectors: []*Connector{{ID: 41}, {ID: 42}}}

	conn, ok := topo.Connector(42)
	require.True(t, ok)
	assert.Equal(t, uint32(42), conn.ID)

	_, ok = topo.Connector(43)
	assert.False(t, ok)
}

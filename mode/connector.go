package mode

import "fmt"

// Connector types (DRM_MODE_CONNECTOR_*).
const (
	ConnectorUnknown = iota
	ConnectorVGA
	ConnectorDVII
	ConnectorDVID
	ConnectorDVIA
	ConnectorComposite
	ConnectorSVIDEO
	ConnectorLVDS
	ConnectorComponent
	Connector9PinDIN
	ConnectorDisplayPort
	ConnectorHDMIA
	ConnectorHDMIB
	ConnectorTV
	ConnectorEDP
	ConnectorVirtual
	ConnectorDSI
	ConnectorDPI
	ConnectorWriteback
	ConnectorSPI
	ConnectorUSB
)

var connectorNames = [...]string{
	ConnectorUnknown:     "Unknown",
	ConnectorVGA:         "VGA",
	ConnectorDVII:        "DVI-I",
	ConnectorDVID:        "DVI-D",
	ConnectorDVIA:        "DVI-A",
	ConnectorComposite:   "Composite",
	ConnectorSVIDEO:      "SVIDEO",
	ConnectorLVDS:        "LVDS",
	ConnectorComponent:   "Component",
	Connector9PinDIN:     "DIN",
	ConnectorDisplayPort: "DP",
	ConnectorHDMIA:       "HDMI-A",
	ConnectorHDMIB:       "HDMI-B",
	ConnectorTV:          "TV",
	ConnectorEDP:         "eDP",
	ConnectorVirtual:     "Virtual",
	ConnectorDSI:         "DSI",
	ConnectorDPI:         "DPI",
	ConnectorWriteback:   "Writeback",
	ConnectorSPI:         "SPI",
	ConnectorUSB:         "USB",
}

// ConnectorTypeName returns the name the kernel uses for a connector type.
func ConnectorTypeName(typ uint32) string {
	if int(typ) < len(connectorNames) {
		return connectorNames[typ]
	}
	return "Unknown"
}

// Name returns the connector name as the kernel prints it, eg.: HDMI-A-1.
func (conn *Connector) Name() string {
	return fmt.Sprintf("%s-%d", ConnectorTypeName(conn.Type), conn.TypeID)
}

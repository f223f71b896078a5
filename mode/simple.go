// Connector to CRTC routing, after the modeset.c example
// Source: https://github.com/dvdhrm/docs/blob/master/drm-howto/modeset.c
package mode

import (
	"fmt"
	"os"
)

type (
	Modeset struct {
		Width, Height uint16

		Mode  Info
		Modes []Info // every mode the connector reports, preferred first
		Conn  uint32
		Name  string // connector name, eg.: DP-1
		Crtc  uint32
		Pipe  int // index of Crtc in Resources.Crtcs
	}

	// Topology is a snapshot of the KMS objects of a card.
	Topology struct {
		Resources  *Resources
		Connectors []*Connector
		Encoders   map[uint32]*Encoder
	}

	SimpleModeset struct {
		Topology *Topology
		Modesets []Modeset
		driFile  *os.File
	}
)

// GetTopology reads resources, connectors and encoders of the card.
func GetTopology(file *os.File) (*Topology, error) {
	res, err := GetResources(file)
	if err != nil {
		return nil, fmt.Errorf("cannot retrieve resources: %w", err)
	}

	topo := &Topology{
		Resources: res,
		Encoders:  make(map[uint32]*Encoder, len(res.Encoders)),
	}
	for _, id := range res.Connectors {
		conn, err := GetConnector(file, id)
		if err != nil {
			return nil, fmt.Errorf("cannot retrieve connector %d: %w", id, err)
		}
		topo.Connectors = append(topo.Connectors, conn)
	}
	for _, id := range res.Encoders {
		enc, err := GetEncoder(file, id)
		if err != nil {
			return nil, fmt.Errorf("cannot retrieve encoder %d: %w", id, err)
		}
		topo.Encoders[id] = enc
	}
	return topo, nil
}

// Modesets routes every connected connector with at least one mode to a
// CRTC no other connector uses, preferring the CRTC its current encoder
// already drives. Connectors without a free CRTC are left out.
func (topo *Topology) Modesets() []Modeset {
	var sets []Modeset
	used := make(map[uint32]bool)

	for _, conn := range topo.Connectors {
		// check if a monitor is connected
		if conn.Connection != Connected || len(conn.Modes) == 0 {
			continue
		}

		pipe, ok := topo.findCrtc(conn, used)
		if !ok {
			continue
		}
		crtc := topo.Resources.Crtcs[pipe]
		used[crtc] = true

		sets = append(sets, Modeset{
			Width:  conn.Modes[0].Hdisplay,
			Height: conn.Modes[0].Vdisplay,
			Mode:   conn.Modes[0],
			Modes:  conn.Modes,
			Conn:   conn.ID,
			Name:   conn.Name(),
			Crtc:   crtc,
			Pipe:   pipe,
		})
	}
	return sets
}

func (topo *Topology) pipeOf(crtcid uint32) (int, bool) {
	for i, id := range topo.Resources.Crtcs {
		if id == crtcid {
			return i, true
		}
	}
	return 0, false
}

func (topo *Topology) findCrtc(conn *Connector, used map[uint32]bool) (int, bool) {
	if enc, ok := topo.Encoders[conn.EncoderID]; ok && enc.CrtcID != 0 && !used[enc.CrtcID] {
		if pipe, ok := topo.pipeOf(enc.CrtcID); ok {
			return pipe, true
		}
	}

	// If the connector is not currently bound to an encoder or if the
	// encoder+crtc is already used by another connector (actually unlikely
	// but lets be safe), iterate all other available encoders to find a
	// matching CRTC.
	for _, encid := range conn.Encoders {
		enc, ok := topo.Encoders[encid]
		if !ok {
			continue
		}
		for j, crtcid := range topo.Resources.Crtcs {
			// check whether this CRTC works with the encoder
			if enc.PossibleCrtcs&(1<<uint(j)) == 0 {
				continue
			}
			if !used[crtcid] {
				return j, true
			}
		}
	}
	return 0, false
}

// Connector returns the connector with the given id.
func (topo *Topology) Connector(id uint32) (*Connector, bool) {
	for _, conn := range topo.Connectors {
		if conn.ID == id {
			return conn, true
		}
	}
	return nil, false
}

// SetCrtc restores a CRTC saved before the first mode set.
func (mset *SimpleModeset) SetCrtc(dev *Modeset, savedCrtc *Crtc) error {
	err := SetCrtc(mset.driFile, savedCrtc.ID,
		savedCrtc.BufferID,
		savedCrtc.X, savedCrtc.Y,
		[]uint32{dev.Conn},
		&savedCrtc.Mode,
	)
	if err != nil {
		return fmt.Errorf("failed to restore CRTC: %w", err)
	}

	return nil
}

func NewSimpleModeset(file *os.File) (*SimpleModeset, error) {
	topo, err := GetTopology(file)
	if err != nil {
		return nil, err
	}

	return &SimpleModeset{
		Topology: topo,
		Modesets: topo.Modesets(),
		driFile:  file,
	}, nil
}

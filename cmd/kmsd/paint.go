package main

import (
	"encoding/binary"
	"math/rand"

	"github.com/NeowayLabs/kmsd/internal/display"
	"github.com/NeowayLabs/kmsd/internal/logger"
)

// painter cycles the front buffer through slowly drifting colors.
type painter struct {
	s       *display.Screen
	r, g, b uint8
	up      [3]bool
}

func newPainter(s *display.Screen) *painter {
	return &painter{
		s:  s,
		r:  uint8(rand.Intn(256)),
		g:  uint8(rand.Intn(256)),
		b:  uint8(rand.Intn(256)),
		up: [3]bool{true, true, true},
	}
}

func nextColor(up *bool, cur uint8, step uint8) uint8 {
	next := cur + step
	if !*up {
		next = cur - step
	}
	if (*up && next < cur) || (!*up && next > cur) {
		*up = !*up
		next = cur
	}
	return next
}

func (p *painter) paint() {
	p.r = nextColor(&p.up[0], p.r, 20)
	p.g = nextColor(&p.up[1], p.g, 10)
	p.b = nextColor(&p.up[2], p.b, 5)

	mem, err := p.s.FrontBufferCPU()
	if err != nil {
		logger.Warn("front buffer not mapped", "err", err)
		return
	}
	w, h := p.s.VirtualSize()
	fill(mem, int(p.s.Pitch()), w, h, p.s.Format(), p.r, p.g, p.b)
}

// fill paints a width×height rectangle of a pitch wide buffer.
func fill(mem []byte, pitch, width, height int, f display.Format, r, g, b uint8) {
	cpp := f.CPP()
	var px [4]byte
	switch f.Depth {
	case 24:
		binary.LittleEndian.PutUint32(px[:], uint32(r)<<16|uint32(g)<<8|uint32(b))
	case 16:
		binary.LittleEndian.PutUint16(px[:], uint16(r>>3)<<11|uint16(g>>2)<<5|uint16(b>>3))
	case 15:
		binary.LittleEndian.PutUint16(px[:], uint16(r>>3)<<10|uint16(g>>3)<<5|uint16(b>>3))
	case 8:
		px[0] = r&0xe0 | (g&0xe0)>>3 | b>>6
	}

	for y := 0; y < height; y++ {
		row := y * pitch
		if row+width*cpp > len(mem) {
			return
		}
		for x := 0; x < width; x++ {
			copy(mem[row+x*cpp:], px[:cpp])
		}
	}
}

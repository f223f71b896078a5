package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NeowayLabs/kmsd/internal/config"
	"github.com/NeowayLabs/kmsd/internal/display"
)

func TestFillHonorsPitch(t *testing.T) {
	const pitch, width, height = 16, 3, 2
	mem := make([]byte, pitch*height)

	fill(mem, pitch, width, height, display.Format{Depth: 24, BPP: 32}, 0x11, 0x22, 0x33)

	assert.Equal(t, []byte{0x33, 0x22, 0x11, 0}, mem[0:4])
	assert.Equal(t, []byte{0x33, 0x22, 0x11, 0}, mem[8:12])
	assert.Equal(t, []byte{0, 0, 0, 0}, mem[12:16], "row padding untouched")
	assert.Equal(t, []byte{0x33, 0x22, 0x11, 0}, mem[16:20])
}

func TestFill16(t *testing.T) {
	mem := make([]byte, 4)
	fill(mem, 4, 2, 1, display.Format{Depth: 16, BPP: 16}, 0xff, 0, 0)
	assert.Equal(t, []byte{0x00, 0xf8, 0x00, 0xf8}, mem)
}

func TestFillStopsAtBufferEnd(t *testing.T) {
	mem := make([]byte, 8)
	assert.NotPanics(t, func() {
		fill(mem, 8, 2, 4, display.Format{Depth: 24, BPP: 32}, 1, 2, 3)
	})
}

func TestNextColor(t *testing.T) {
	up := true
	assert.Equal(t, uint8(30), nextColor(&up, 10, 20))
	assert.True(t, up)

	assert.Equal(t, uint8(250), nextColor(&up, 250, 20))
	assert.False(t, up)
	assert.Equal(t, uint8(230), nextColor(&up, 250, 20))
}

func TestRequestsPerHead(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.Display.ZaphodHeads = []string{"DP-1", "HDMI-A-1"}

	reqs := requests(&cfg)
	assert.Len(t, reqs, 2)
	assert.Equal(t, []string{"HDMI-A-1"}, reqs[1].Heads)
	assert.Equal(t, 24, reqs[0].Depth)

	cfg.Display.ZaphodHeads = nil
	assert.Len(t, requests(&cfg), 1)
}

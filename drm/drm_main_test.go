package drm_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/NeowayLabs/kmsd/drm"
)

type (
	cardDetail struct {
		version      drm.Version
		capabilities map[uint64]uint64
	}
)

var (
	card, errCard = drm.Available()
	cards         = map[string]cardDetail{
		"i915": cardDetail{
			version: drm.Version{
				Major: 1,
				Minor: 6,
				Patch: 1,
				Name:  "i915",
				Desc:  "i915",
				Date:  "20160425",
			},
			capabilities: map[uint64]uint64{
				drm.CapDumbBuffer:         1,
				drm.CapVBlankHighCRTC:     1,
				drm.CapDumbPreferredDepth: 24,
				drm.CapDumbPreferShadow:   1,
				drm.CapPrime:              3,
				drm.CapTimestampMonotonic: 1,
				drm.CapAsyncPageFlip:      0,
				drm.CapCursorWidth:        256,
				drm.CapCursorHeight:       256,

				drm.CapAddFB2Modifiers: 1,
			},
		},
		"amdgpu": cardDetail{
			version: drm.Version{
				Major: 3,
				Name:  "amdgpu",
				Desc:  "AMD GPU",
			},
			capabilities: map[uint64]uint64{
				drm.CapDumbBuffer:         1,
				drm.CapVBlankHighCRTC:     1,
				drm.CapDumbPreferredDepth: 24,
				drm.CapDumbPreferShadow:   1,
				drm.CapPrime:              3,
				drm.CapTimestampMonotonic: 1,
				drm.CapCursorWidth:        128,
				drm.CapCursorHeight:       128,
			},
		},
	}
	cardInfo  cardDetail
	knownCard bool
)

// requireCard skips tests that need a real graphics card.
func requireCard(t *testing.T) {
	t.Helper()
	if errCard != nil {
		t.Skipf("no graphics card available: %v", errCard)
	}
}

// requireKnownCard additionally skips when there is no capability table
// for the card under test.
func requireKnownCard(t *testing.T) {
	t.Helper()
	requireCard(t)
	if !knownCard {
		t.Skipf("no tests for card '%s'", card.Name)
	}
}

func TestMain(m *testing.M) {
	cards[""] = cards["i915"] // i915 bug in 4.8 kernel?
	if errCard == nil {
		cardInfo, knownCard = cards[card.Name]
		if !knownCard {
			fmt.Fprintf(os.Stderr, "No capability table for card '%s'\n", card.Name)
		}
	}
	os.Exit(m.Run())
}

// Package session shares one open device per physical adapter between the
// screens (display contexts) that drive it.
package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/NeowayLabs/kmsd/internal/logger"
)

// ErrDeviceOpen reports that the device node could not be opened or that
// version negotiation with the kernel driver failed.
var ErrDeviceOpen = errors.New("device open failed")

// Opener opens the device of an adapter.
type Opener[D io.Closer] func(adapter string) (D, error)

// Registry tracks the open devices of a set of adapters. Independent
// registries share nothing.
type Registry[D io.Closer] struct {
	open Opener[D]

	mu       sync.Mutex
	adapters map[string]*entry[D]
}

type entry[D io.Closer] struct {
	mu sync.Mutex

	dev   D
	refs  int
	open  bool
	crtcs int

	primaryTaken bool
}

// Handle is one screen's reference to a shared adapter device.
type Handle[D io.Closer] struct {
	reg     *Registry[D]
	adapter string
	ent     *entry[D]
	primary bool

	once sync.Once
}

func NewRegistry[D io.Closer](open Opener[D]) *Registry[D] {
	return &Registry[D]{
		open:     open,
		adapters: make(map[string]*entry[D]),
	}
}

func (r *Registry[D]) lookup(adapter string) *entry[D] {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.adapters[adapter]
	if !ok {
		ent = &entry[D]{}
		r.adapters[adapter] = ent
	}
	return ent
}

// Acquire opens the adapter on first use and returns a handle sharing the
// device with every other live handle of the same adapter. The first handle
// of an adapter is its primary; later ones are secondaries.
func (r *Registry[D]) Acquire(adapter string) (*Handle[D], error) {
	ent := r.lookup(adapter)

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if !ent.open {
		dev, err := r.open(adapter)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDeviceOpen, adapter, err)
		}
		ent.dev = dev
		ent.open = true
		ent.primaryTaken = false
		logger.Debug("opened adapter", "adapter", adapter)
	}
	ent.refs++

	h := &Handle[D]{
		reg:     r,
		adapter: adapter,
		ent:     ent,
		primary: !ent.primaryTaken,
	}
	ent.primaryTaken = true
	return h, nil
}

// Refs returns the number of live handles of an adapter.
func (r *Registry[D]) Refs(adapter string) int {
	ent := r.lookup(adapter)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.refs
}

// Device returns the shared device. It must not be used after Release.
func (h *Handle[D]) Device() D {
	return h.ent.dev
}

func (h *Handle[D]) Adapter() string {
	return h.adapter
}

// Primary reports whether this handle initialized the adapter.
func (h *Handle[D]) Primary() bool {
	return h.primary
}

// Secondary reports whether this handle joined an adapter another screen
// already drives.
func (h *Handle[D]) Secondary() bool {
	return !h.primary
}

// SetCRTCCount records how many display pipelines the adapter has.
func (h *Handle[D]) SetCRTCCount(n int) {
	h.ent.mu.Lock()
	h.ent.crtcs = n
	h.ent.mu.Unlock()
}

// HasSecondCRTC reports whether a second screen can get its own pipeline.
func (h *Handle[D]) HasSecondCRTC() bool {
	h.ent.mu.Lock()
	defer h.ent.mu.Unlock()
	return h.ent.crtcs > 1
}

// Release drops the handle's reference. The last release closes the
// device. Releasing twice is a no-op.
func (h *Handle[D]) Release() error {
	var err error
	h.once.Do(func() {
		err = h.reg.release(h)
	})
	return err
}

func (r *Registry[D]) release(h *Handle[D]) error {
	ent := h.ent
	ent.mu.Lock()
	defer ent.mu.Unlock()

	ent.refs--
	if ent.refs > 0 {
		return nil
	}

	var zero D
	dev := ent.dev
	ent.dev = zero
	ent.open = false
	ent.crtcs = 0
	logger.Debug("closing adapter", "adapter", h.adapter)
	if err := dev.Close(); err != nil {
		return fmt.Errorf("close %s: %w", h.adapter, err)
	}
	return nil
}

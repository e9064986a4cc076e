package capture

import (
	"sync"
)

// FakeContext is an in-memory audio backend for tests. Captured audio is fed
// manually through FakeDevice.Feed; playback output is collected for
// inspection.
type FakeContext struct {
	mu       sync.Mutex
	captures []*FakeDevice
	players  []*FakeDevice
}

// NewFakeContext creates a fake audio backend
func NewFakeContext() *FakeContext {
	return &FakeContext{}
}

func (f *FakeContext) NewCapture(_ Config, cb DataCallback) (Device, error) {
	dev := &FakeDevice{cb: cb}
	f.mu.Lock()
	f.captures = append(f.captures, dev)
	f.mu.Unlock()
	return dev, nil
}

func (f *FakeContext) NewPlayback(_ Config, source SourceCallback) (Device, error) {
	dev := &FakeDevice{source: source}
	f.mu.Lock()
	f.players = append(f.players, dev)
	f.mu.Unlock()
	return dev, nil
}

func (f *FakeContext) Close() {}

// Captures returns the capture devices created so far
func (f *FakeContext) Captures() []*FakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeDevice(nil), f.captures...)
}

// Players returns the playback devices created so far
func (f *FakeContext) Players() []*FakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeDevice(nil), f.players...)
}

// FakeDevice is a manually driven audio device
type FakeDevice struct {
	mu      sync.Mutex
	cb      DataCallback
	source  SourceCallback
	started bool
	closed  bool
}

func (d *FakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *FakeDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
}

func (d *FakeDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Started reports whether the device is currently running
func (d *FakeDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Closed reports whether the device has been released
func (d *FakeDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Feed delivers PCM bytes to a running capture device's callback
func (d *FakeDevice) Feed(data []byte) {
	d.mu.Lock()
	cb := d.cb
	started := d.started
	d.mu.Unlock()
	if cb != nil && started {
		cb(data, uint32(len(data)/2))
	}
}

// Pull asks a running playback device's source for n bytes of output
func (d *FakeDevice) Pull(n int) []byte {
	d.mu.Lock()
	source := d.source
	started := d.started
	d.mu.Unlock()

	out := make([]byte, n)
	if source != nil && started {
		source(out, uint32(n/2))
	}
	return out
}

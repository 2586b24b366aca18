// Package source delivers camera frames to the render loop without ever
// blocking it on device I/O.
//
// Each open device is polled by its own capture goroutine, which refreshes a
// single latest-frame cell. Read copies that cell out. Devices are tried in a
// fixed order (primary, secondary, synthetic); a failing primary is demoted
// for the rest of the session and is never promoted back.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/types"
)

// ErrNoDevice is returned by an Opener that has nothing to open.
var ErrNoDevice = errors.New("no capture device")

// Device is a blocking frame producer.
type Device interface {
	// Read blocks until the next frame is available.
	Read() (types.Frame, error)
	Close() error
}

// Opener acquires a device.
type Opener func(ctx context.Context) (Device, error)

// DeviceSpec names an opener. A nil Open skips the slot.
type DeviceSpec struct {
	Name string
	Open Opener
}

// Names reported by Active.
const (
	NamePrimary   = "primary"
	NameSecondary = "secondary"
	NameSynthetic = "synthetic"
	NameNone      = "none"
)

type mode int

const (
	modeNone mode = iota
	modePrimary
	modeSecondary
	modeSynthetic
)

func (m mode) String() string {
	switch m {
	case modePrimary:
		return NamePrimary
	case modeSecondary:
		return NameSecondary
	case modeSynthetic:
		return NameSynthetic
	default:
		return NameNone
	}
}

// Options configures a Source.
type Options struct {
	Primary   DeviceSpec
	Secondary DeviceSpec
	// Width and Height size the synthetic frames.
	Width, Height int
	OpenTimeout   time.Duration
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Source is the frame source with failover.
type Source struct {
	opts   Options
	logger *slog.Logger
	synth  *Synthetic

	mu        sync.Mutex
	mode      mode
	latest    types.Frame
	have      bool
	readErr   error
	seq       uint64
	failovers int
	demoting  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a source that has not opened anything yet.
func New(opts Options) *Source {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 3 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	return &Source{
		opts:   opts,
		logger: logging.Component(opts.Logger, "source"),
		synth:  NewSynthetic(opts.Width, opts.Height),
	}
}

// Open acquires the first device that opens, in priority order, and starts
// capturing from it. When nothing opens the source serves synthetic frames.
// Open only fails when ctx is done.
func (s *Source) Open(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if dev, err := s.openDevice(s.opts.Primary); err == nil {
		s.start(modePrimary, dev)
		return nil
	} else if !errors.Is(err, ErrNoDevice) {
		s.logger.Warn("primary device unavailable", logging.FieldDevice, s.opts.Primary.Name, "error", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if dev, err := s.openDevice(s.opts.Secondary); err == nil {
		s.start(modeSecondary, dev)
		return nil
	} else if !errors.Is(err, ErrNoDevice) {
		s.logger.Warn("secondary device unavailable", logging.FieldDevice, s.opts.Secondary.Name, "error", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.useSynthetic()
	return nil
}

func (s *Source) openDevice(spec DeviceSpec) (Device, error) {
	if spec.Open == nil {
		return nil, ErrNoDevice
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.OpenTimeout)
	defer cancel()

	type opened struct {
		dev Device
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		dev, err := spec.Open(ctx)
		ch <- opened{dev, err}
	}()

	select {
	case r := <-ch:
		return r.dev, r.err
	case <-ctx.Done():
		// the opener may still succeed after we gave up on it
		go func() {
			if r := <-ch; r.err == nil && r.dev != nil {
				r.dev.Close()
			}
		}()
		return nil, fmt.Errorf("open %s: %w", spec.Name, ctx.Err())
	}
}

func (s *Source) start(m mode, dev Device) {
	s.mu.Lock()
	s.mode = m
	s.have = false
	s.readErr = nil
	s.mu.Unlock()

	s.logger.Info("capture device active", logging.FieldDevice, m.String())

	s.wg.Add(1)
	go s.capture(m, dev)
}

func (s *Source) useSynthetic() {
	s.mu.Lock()
	s.mode = modeSynthetic
	s.have = false
	s.readErr = nil
	s.mu.Unlock()
	s.logger.Warn("no capture device opened, serving synthetic frames", logging.FieldDevice, NameSynthetic)
}

// capture polls dev until the source closes or the device is demoted.
func (s *Source) capture(m mode, dev Device) {
	defer s.wg.Done()
	defer dev.Close()

	for {
		if s.ctx.Err() != nil {
			return
		}
		frame, err := dev.Read()
		if s.ctx.Err() != nil {
			return
		}
		if err == nil && frame.Empty() {
			err = errors.New("empty frame")
		}

		if err != nil {
			if m == modePrimary {
				s.demote(err)
				return
			}
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			s.logger.Debug("device read failed", logging.FieldDevice, m.String(), "error", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.opts.RetryInterval):
			}
			continue
		}

		s.mu.Lock()
		if s.mode != m {
			s.mu.Unlock()
			return
		}
		s.seq++
		frame.Seq = s.seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = time.Now()
		}
		s.latest = frame
		s.have = true
		s.readErr = nil
		s.mu.Unlock()
	}
}

// demote permanently abandons the primary device.
func (s *Source) demote(cause error) {
	s.mu.Lock()
	if s.mode != modePrimary || s.demoting {
		s.mu.Unlock()
		return
	}
	s.demoting = true
	s.failovers++
	s.mode = modeSecondary
	s.have = false
	s.readErr = nil
	s.mu.Unlock()

	s.logger.Warn("primary device failed, demoting to secondary",
		"from", NamePrimary, "to", NameSecondary, "error", cause)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		dev, err := s.openDevice(s.opts.Secondary)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrNoDevice) {
				s.logger.Warn("secondary device unavailable", logging.FieldDevice, s.opts.Secondary.Name, "error", err)
			}
			s.useSynthetic()
			return
		}
		s.start(modeSecondary, dev)
	}()
}

// Read returns a copy of the newest frame without touching the device.
// ok is false until the active device has delivered a frame, and while it is
// reporting read errors.
func (s *Source) Read() (bool, types.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case modeSynthetic:
		s.seq++
		return true, s.synth.Next(s.seq)
	case modePrimary, modeSecondary:
		if !s.have || s.readErr != nil {
			return false, types.Frame{}
		}
		return true, s.latest.Clone()
	default:
		return false, types.Frame{}
	}
}

// Active names the device frames currently come from.
func (s *Source) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode.String()
}

// Failovers counts primary demotions. It is never more than one.
func (s *Source) Failovers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failovers
}

// Close stops every capture goroutine and releases the devices. It waits at
// most timeout for a device stuck in Read.
func (s *Source) Close(timeout time.Duration) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("capture goroutines still running after %s", timeout)
	}
}

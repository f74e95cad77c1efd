package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
)

const (
	DefaultFrameSize    = 4096
	DefaultQueueFrames  = 16
	DefaultStallTimeout = 3 * time.Second
)

// Options tune one capture stream.
type Options struct {
	FrameSize    int
	QueueFrames  int
	StallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.FrameSize <= 0 {
		o.FrameSize = DefaultFrameSize
	}
	if o.QueueFrames <= 0 {
		o.QueueFrames = DefaultQueueFrames
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = DefaultStallTimeout
	}
	return o
}

// Capture streams fixed-size mono float32 frames from one Pulse source at its native rate.
type Capture struct {
	device     Device
	sampleRate int
	opts       Options
	now        func() time.Time

	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []float32
	stopCh chan struct{}

	mu      sync.Mutex
	pending []float32
	stopped bool
	err     error

	stopOnce sync.Once
	inflight sync.WaitGroup

	lastDataAt atomic.Int64
	samples    atomic.Int64
	dropped    atomic.Int64
}

// Start opens a record stream on the selected source.
// A refused connection returns ErrPermissionDenied and captures nothing.
func Start(ctx context.Context, selected Device, opts Options) (*Capture, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := newCapture(selected, source.SampleRate(), opts)
	capture.client = client

	stream, err := client.NewRecord(
		pulse.Float32Writer(capture.onSamples),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(capture.sampleRate),
		pulse.RecordBufferFragmentSize(uint32(capture.opts.FrameSize*4)),
		pulse.RecordMediaName("murmur dictation"),
	)
	if err != nil {
		_ = capture.Stop()
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	capture.lastDataAt.Store(capture.now().UnixNano())
	stream.Start()

	go capture.monitor(ctx)

	return capture, nil
}

func newCapture(selected Device, sampleRate int, opts Options) *Capture {
	opts = opts.withDefaults()
	return &Capture{
		device:     selected,
		sampleRate: sampleRate,
		opts:       opts,
		now:        time.Now,
		frames:     make(chan []float32, opts.QueueFrames),
		stopCh:     make(chan struct{}),
	}
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// SampleRate is the native rate of emitted frames.
func (c *Capture) SampleRate() int {
	return c.sampleRate
}

// Frames delivers fixed-size frames in capture order. It closes when capture halts.
func (c *Capture) Frames() <-chan []float32 {
	return c.frames
}

// Err reports why capture halted on its own, or nil after a plain Stop.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SamplesCaptured reports total samples accepted from Pulse.
func (c *Capture) SamplesCaptured() int64 {
	return c.samples.Load()
}

// FramesDropped reports frames discarded because the consumer fell behind.
func (c *Capture) FramesDropped() int64 {
	return c.dropped.Load()
}

// Stop releases the stream and the client and closes Frames. Safe to call repeatedly.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		close(c.stopCh)
		c.mu.Unlock()

		if c.stream != nil {
			c.stream.Stop()
			c.stream.Close()
		}
		if c.client != nil {
			c.client.Close()
		}

		c.inflight.Wait()

		c.mu.Lock()
		// Partial frames are discarded so every emitted frame has FrameSize samples.
		c.pending = nil
		c.mu.Unlock()

		close(c.frames)
	})
	return nil
}

// fail records err as the halt reason and stops the capture.
func (c *Capture) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.stopped {
		c.err = err
	}
	c.mu.Unlock()
	_ = c.Stop()
}

// onSamples receives raw Pulse samples and emits FrameSize slices without blocking.
func (c *Capture) onSamples(buffer []float32) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)

	c.pending = append(c.pending, buffer...)
	size := c.opts.FrameSize
	frames := make([][]float32, 0, len(c.pending)/size)
	for len(c.pending) >= size {
		frame := make([]float32, size)
		copy(frame, c.pending[:size])
		c.pending = c.pending[size:]
		frames = append(frames, frame)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.samples.Add(int64(len(buffer)))
	c.lastDataAt.Store(c.now().UnixNano())

	for _, frame := range frames {
		select {
		case c.frames <- frame:
		default:
			c.dropped.Add(1)
		}
	}

	return len(buffer), nil
}

// monitor halts capture with ErrDeviceUnavailable when the stream stalls.
func (c *Capture) monitor(ctx context.Context) {
	ticker := time.NewTicker(c.opts.StallTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.Stop()
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.stalled(c.now()) {
				c.fail(fmt.Errorf("%w: no audio from %q for %s", ErrDeviceUnavailable, c.device.ID, c.opts.StallTimeout))
				return
			}
		}
	}
}

func (c *Capture) stalled(now time.Time) bool {
	last := c.lastDataAt.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.Unix(0, last)) >= c.opts.StallTimeout
}

package sampler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	intaudio "github.com/cbegin/sampler-go/internal/audio"
	"github.com/cbegin/sampler-go/internal/engine"
	"github.com/cbegin/sampler-go/internal/messaging"
	"github.com/cbegin/sampler-go/internal/messaging/client"
	"github.com/cbegin/sampler-go/internal/patchio"
	"github.com/cbegin/sampler-go/internal/render"
)

// maxDeviceFrames is how many frames one Process pass renders into the
// preallocated busses. Longer requests are split.
const maxDeviceFrames = 4096

type Option func(*instrumentConfig)

type instrumentConfig struct {
	logger       *slog.Logger
	backend      string
	bufferTime   time.Duration
	hostCallback func(token uint64)
	clientBuffer int
	bundle       string
	volume       float64
	sampleTap    func([]float32)
}

func defaultInstrumentConfig() instrumentConfig {
	return instrumentConfig{
		logger:  slog.Default(),
		backend: intaudio.BackendEbiten,
		bundle:  patchio.DefaultBundle,
		volume:  1,
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *instrumentConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithBackend selects the device backend Play opens: ebiten, oto or none.
func WithBackend(name string) Option {
	return func(cfg *instrumentConfig) {
		cfg.backend = name
	}
}

// WithBufferTime sets the device buffer length where the backend honours it.
func WithBufferTime(d time.Duration) Option {
	return func(cfg *instrumentConfig) {
		cfg.bufferTime = d
	}
}

// WithHostCallback installs the function RequestHostCallback commands reach.
func WithHostCallback(fn func(token uint64)) Option {
	return func(cfg *instrumentConfig) {
		cfg.hostCallback = fn
	}
}

// WithClientBuffer sizes the error report channel returned by Watch.
func WithClientBuffer(n int) Option {
	return func(cfg *instrumentConfig) {
		cfg.clientBuffer = n
	}
}

// WithBundle names the init state loaded by New. An empty name skips it.
func WithBundle(name string) Option {
	return func(cfg *instrumentConfig) {
		cfg.bundle = name
	}
}

func WithMasterVolume(volume float64) Option {
	return func(cfg *instrumentConfig) {
		cfg.volume = volume
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) Option {
	return func(cfg *instrumentConfig) {
		cfg.sampleTap = tap
	}
}

// Instrument owns an engine together with the controller that serializes
// changes to it and the processor that renders it.
type Instrument struct {
	cfg        instrumentConfig
	sampleRate int
	logger     *slog.Logger

	engine *engine.Engine
	ctrl   *messaging.Controller
	proc   *render.Processor

	renderMu sync.Mutex
	busses   []render.Bus
	volume   atomic.Uint64

	mu     sync.Mutex
	output intaudio.Output

	cancel  context.CancelFunc
	stopped chan struct{}
}

func New(sampleRate int, opts ...Option) (*Instrument, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultInstrumentConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	e := engine.New(engine.WithLogger(cfg.logger), engine.WithSampleRate(float64(sampleRate)))
	ctrl := messaging.New(e,
		messaging.WithLogger(cfg.logger),
		messaging.WithHostCallback(cfg.hostCallback),
		messaging.WithClientBuffer(cfg.clientBuffer),
	)
	in := &Instrument{
		cfg:        cfg,
		sampleRate: sampleRate,
		logger:     cfg.logger,
		engine:     e,
		ctrl:       ctrl,
		proc:       render.New(e, ctrl, render.WithLogger(cfg.logger)),
		busses:     newBusses(maxDeviceFrames),
		stopped:    make(chan struct{}),
	}
	in.SetMasterVolume(cfg.volume)

	// Nothing else runs yet, so the caller's goroutine is the serial context.
	if cfg.bundle != "" {
		if err := patchio.InitFromResourceBundle(ctrl, cfg.bundle); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	in.cancel = cancel
	go func() {
		defer close(in.stopped)
		ctrl.Run(ctx)
	}()
	in.logger.Info("instrument ready", "sampleRate", sampleRate, "backend", cfg.backend, "bundle", cfg.bundle)
	return in, nil
}

func newBusses(frames int) []render.Bus {
	b := make([]render.Bus, engine.NumAuxOutputs+1)
	for i := range b {
		b[i].Channels = [][]float32{make([]float32, frames), make([]float32, frames)}
	}
	return b
}

func (in *Instrument) SampleRate() int { return in.sampleRate }

// Processor exposes the block processor for hosts that bring their own
// events, transport and output busses.
func (in *Instrument) Processor() *render.Processor { return in.proc }

// Process implements the device SampleSource: dst is interleaved stereo from
// the main bus.
func (in *Instrument) Process(dst []float32) {
	in.renderMu.Lock()
	defer in.renderMu.Unlock()
	in.renderInterleaved(dst, nil)
	if in.cfg.sampleTap != nil {
		in.cfg.sampleTap(dst)
	}
}

// renderInterleaved renders len(dst)/2 frames. events carry times relative to
// dst and must be sorted.
func (in *Instrument) renderInterleaved(dst []float32, events []render.Event) {
	gain := float32(in.MasterVolume())
	frames := len(dst) / 2
	for done := 0; done < frames; {
		n := min(frames-done, maxDeviceFrames)
		var span []render.Event
		for len(events) > 0 && events[0].Time < done+n {
			span = append(span, events[0])
			span[len(span)-1].Time -= done
			events = events[1:]
		}
		in.proc.Process(n, span, nil, in.busses)
		l, r := in.busses[0].Channels[0], in.busses[0].Channels[1]
		for i := 0; i < n; i++ {
			dst[2*(done+i)] = l[i] * gain
			dst[2*(done+i)+1] = r[i] * gain
		}
		done += n
	}
}

// SetMasterVolume sets the output scalar. 1.0 is default.
func (in *Instrument) SetMasterVolume(volume float64) {
	if volume < 0 || math.IsNaN(volume) {
		volume = 0
	}
	in.volume.Store(math.Float64bits(volume))
}

func (in *Instrument) MasterVolume() float64 {
	return math.Float64frombits(in.volume.Load())
}

// Send queues cmd for the serial goroutine without waiting.
func (in *Instrument) Send(cmd messaging.Command) error {
	return in.ctrl.Enqueue(cmd)
}

// Do queues cmd and waits until it was applied.
func (in *Instrument) Do(ctx context.Context, cmd messaging.Command) error {
	return in.ctrl.EnqueueAndWait(ctx, cmd)
}

// Watch returns the channel failed commands are reported on.
func (in *Instrument) Watch() <-chan messaging.ReportError { return in.ctrl.Watch() }

// NoteOn plays key on channel before the next rendered block.
func (in *Instrument) NoteOn(channel, key int, velocity float64) {
	in.ctrl.ScheduleAudioThreadCallback(func(e *engine.Engine) {
		e.VoiceManager().ProcessNoteOnEvent(0, channel, key, engine.AnyNoteID, velocity, 0)
	})
}

func (in *Instrument) NoteOff(channel, key int) {
	in.ctrl.ScheduleAudioThreadCallback(func(e *engine.Engine) {
		e.VoiceManager().ProcessNoteOffEvent(0, channel, key, engine.AnyNoteID, 0)
	})
}

// SendMIDI applies a raw MIDI 1.0 message before the next rendered block.
func (in *Instrument) SendMIDI(msg []byte) {
	var data [3]byte
	copy(data[:], msg)
	in.ctrl.ScheduleAudioThreadCallback(func(e *engine.Engine) {
		e.VoiceManager().ApplyMIDI1Message(0, data)
	})
}

func (in *Instrument) SaveMulti(ctx context.Context, path string, style patchio.Style) error {
	return in.Do(ctx, client.SaveMulti{Path: path, Style: style})
}

func (in *Instrument) SavePart(ctx context.Context, path string, part int, style patchio.Style) error {
	return in.Do(ctx, client.SavePart{Path: path, Part: part, Style: style})
}

func (in *Instrument) LoadMulti(ctx context.Context, path string) error {
	return in.Do(ctx, client.LoadMulti{Path: path})
}

func (in *Instrument) LoadPartInto(ctx context.Context, path string, part int) error {
	return in.Do(ctx, client.LoadPartInto{Path: path, Part: part})
}

// Reset loads an embedded init state; "" is the default one.
func (in *Instrument) Reset(ctx context.Context, bundle string) error {
	return in.Do(ctx, client.ResetEngine{Bundle: bundle})
}

// StateSave returns the instrument state a host stores in its session.
func (in *Instrument) StateSave(ctx context.Context) ([]byte, error) {
	var out []byte
	if err := in.Do(ctx, client.StreamState{Out: &out}); err != nil {
		return nil, err
	}
	return out, nil
}

// StateLoad restores a payload returned by StateSave.
func (in *Instrument) StateLoad(ctx context.Context, payload []byte) error {
	return in.Do(ctx, client.UnstreamIntoEngine{Payload: payload})
}

// Play opens the configured device backend on first use and starts output.
func (in *Instrument) Play() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.output == nil {
		out, err := intaudio.Open(in.cfg.backend, in.sampleRate, in, in.cfg.bufferTime)
		if err != nil {
			return err
		}
		in.output = out
	}
	in.output.Play()
	return nil
}

func (in *Instrument) Pause() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.output != nil {
		in.output.Pause()
	}
}

func (in *Instrument) IsPlaying() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.output != nil && in.output.IsPlaying()
}

// OutputFrames is how many frames the device has pulled since Play first
// opened it.
func (in *Instrument) OutputFrames() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.output == nil {
		return 0
	}
	return in.output.Frames()
}

// Close stops output and the serial goroutine. Queued commands are dropped.
func (in *Instrument) Close() error {
	in.mu.Lock()
	var err error
	if in.output != nil {
		err = in.output.Close()
		in.output = nil
	}
	in.mu.Unlock()
	in.cancel()
	in.ctrl.Close()
	<-in.stopped
	return err
}

package messaging

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbegin/sampler-go/internal/engine"
)

// Command is a client request applied on the serial context. Validate checks
// the payload only and runs before any state is touched; Apply performs the
// mutation, either directly, through ScheduleAudioThreadCallback, or inside
// StopAudioThreadThenRunOnSerial.
type Command interface {
	ID() string
	Validate() error
	Apply(c *Controller) error
}

// Func adapts a plain function into a Command.
type Func struct {
	Name string
	Fn   func(c *Controller) error
}

func (f Func) ID() string { return f.Name }
func (f Func) Validate() error {
	if f.Fn == nil {
		return ErrNilCommand
	}
	return nil
}
func (f Func) Apply(c *Controller) error { return f.Fn(c) }

type audioState int32

const (
	audioRunning audioState = iota
	audioSuspended
)

type pending struct {
	cmd  Command
	done chan error
}

type config struct {
	logger       *slog.Logger
	hostCallback func(token uint64)
	clientBuffer int
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHostCallback installs the function RequestHostCallback forwards to.
func WithHostCallback(fn func(token uint64)) Option {
	return func(c *config) { c.hostCallback = fn }
}

// WithClientBuffer sizes the error report channel returned by Watch.
func WithClientBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.clientBuffer = n
		}
	}
}

// Controller serializes every mutation of the engine. Any goroutine may
// Enqueue; one serial goroutine drains (Run or Drain); the render context
// brackets each block with BeginRender/EndRender and runs audio thread
// callbacks between blocks.
type Controller struct {
	engine *engine.Engine
	logger *slog.Logger
	cfg    config

	commands  mpsc[pending]
	callbacks mpsc[func(*engine.Engine)]
	wake      chan struct{}

	state     atomic.Int32
	rendering atomic.Bool

	// serial context only
	draining  bool
	inClosure bool
	deferred  []func(*engine.Engine)

	client         chan ReportError
	droppedReports atomic.Uint64

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func New(e *engine.Engine, opts ...Option) *Controller {
	cfg := config{logger: slog.Default(), clientBuffer: 16}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Controller{
		engine: e,
		logger: cfg.logger,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		client: make(chan ReportError, cfg.clientBuffer),
		done:   make(chan struct{}),
	}
}

// Engine returns the controlled engine. Only touch it from a command, an
// audio thread callback, or a suspended closure.
func (c *Controller) Engine() *engine.Engine { return c.engine }

func (c *Controller) Logger() *slog.Logger { return c.logger }

// Enqueue appends cmd without blocking.
func (c *Controller) Enqueue(cmd Command) error {
	return c.enqueue(cmd, nil)
}

func (c *Controller) enqueue(cmd Command, done chan error) error {
	if cmd == nil {
		return ErrNilCommand
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.commands.push(pending{cmd: cmd, done: done})
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// EnqueueAndWait enqueues cmd and blocks until the serial goroutine applied
// it. It must not be called from the serial goroutine itself.
func (c *Controller) EnqueueAndWait(ctx context.Context, cmd Command) error {
	done := make(chan error, 1)
	if err := c.enqueue(cmd, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Run drains commands whenever any are enqueued until ctx ends or the
// controller is closed.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Debug("serial loop started")
	defer c.logger.Debug("serial loop stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.wake:
			c.Drain()
		}
	}
}

// Drain applies every command enqueued so far, oldest first, each exactly
// once. A nested call from inside a command is a no-op.
func (c *Controller) Drain() int {
	if c.draining {
		return 0
	}
	c.draining = true
	defer func() { c.draining = false }()

	n := 0
	for p := c.commands.takeAll(); p != nil; p = p.next {
		err := c.apply(p.value.cmd)
		if p.value.done != nil {
			p.value.done <- err
		}
		n++
	}
	return n
}

func (c *Controller) apply(cmd Command) error {
	err := cmd.Validate()
	if err == nil {
		err = cmd.Apply(c)
	}
	if err != nil {
		c.reportCommandError(cmd, err)
		return err
	}
	c.logger.Debug("command applied", "command", cmd.ID())
	return nil
}

func (c *Controller) reportCommandError(cmd Command, err error) {
	title := "Unable to apply " + cmd.ID()
	var re *ReportableError
	if errors.As(err, &re) {
		title = re.Title
		if re.Err != nil {
			err = re.Err
		}
	}
	c.ReportErrorToClient(title, err.Error())
}

// ReportErrorToClient logs and forwards an error to Watch without blocking.
// Reports are dropped when the client is not keeping up.
func (c *Controller) ReportErrorToClient(title, detail string) {
	c.logger.Error(title, "detail", detail)
	select {
	case c.client <- ReportError{Title: title, Detail: detail}:
	default:
		c.droppedReports.Add(1)
	}
}

// Watch returns the channel error reports are delivered on.
func (c *Controller) Watch() <-chan ReportError { return c.client }

// DroppedReports counts reports lost to a full client channel.
func (c *Controller) DroppedReports() uint64 { return c.droppedReports.Load() }

// RequestHostCallback forwards token to the host callback, if any.
func (c *Controller) RequestHostCallback(token uint64) {
	if c.cfg.hostCallback == nil {
		c.logger.Debug("host callback requested without a host", "token", token)
		return
	}
	c.cfg.hostCallback(token)
}

// ScheduleAudioThreadCallback queues fn to run with exclusive engine access
// on the render context before its next block. Safe from any goroutine.
func (c *Controller) ScheduleAudioThreadCallback(fn func(*engine.Engine)) {
	if fn == nil {
		return
	}
	c.callbacks.push(fn)
}

// RunAudioThreadCallbacks runs every scheduled callback, oldest first.
// Render context only.
func (c *Controller) RunAudioThreadCallbacks() {
	for n := c.callbacks.takeAll(); n != nil; n = n.next {
		n.value(c.engine)
	}
}

// PendingAudioThreadCallbacks reports whether callbacks are waiting.
func (c *Controller) PendingAudioThreadCallbacks() bool { return !c.callbacks.empty() }

// BeginRender claims the engine for one render call. It returns false while
// rendering is suspended, in which case the caller outputs silence and must
// not call EndRender.
func (c *Controller) BeginRender() bool {
	c.rendering.Store(true)
	if audioState(c.state.Load()) != audioRunning {
		c.rendering.Store(false)
		return false
	}
	return true
}

// EndRender releases the claim taken by a successful BeginRender.
func (c *Controller) EndRender() { c.rendering.Store(false) }

// IsAudioRunning reports whether render calls currently produce audio.
func (c *Controller) IsAudioRunning() bool {
	return audioState(c.state.Load()) == audioRunning
}

// StopAudioThreadThenRunOnSerial suspends rendering, waits for any render in
// flight to finish and runs fn with exclusive engine access. fn must call
// RestartAudioThreadFromSerial; if it does not, output stays silent.
// Serial context only. A request made from inside a running fn is queued and
// runs after it returns.
func (c *Controller) StopAudioThreadThenRunOnSerial(fn func(*engine.Engine)) {
	if fn == nil {
		return
	}
	if c.inClosure {
		c.deferred = append(c.deferred, fn)
		return
	}
	c.runSuspended(fn)
	for len(c.deferred) > 0 {
		next := c.deferred[0]
		c.deferred = c.deferred[1:]
		c.runSuspended(next)
	}
	c.deferred = nil
}

// InSuspendedClosure reports whether the serial context is currently inside a
// StopAudioThreadThenRunOnSerial closure. Requests made now are deferred.
func (c *Controller) InSuspendedClosure() bool { return c.inClosure }

// RunSuspended runs fn like StopAudioThreadThenRunOnSerial and restarts audio
// once fn returns. It refuses with ErrNestedSuspension instead of deferring,
// so on a nil return fn has already run.
func (c *Controller) RunSuspended(fn func(*engine.Engine) error) error {
	if c.inClosure {
		return ErrNestedSuspension
	}
	ran := false
	var err error
	c.StopAudioThreadThenRunOnSerial(func(e *engine.Engine) {
		defer c.RestartAudioThreadFromSerial()
		ran = true
		err = fn(e)
	})
	if !ran {
		return ErrNestedSuspension
	}
	return err
}

func (c *Controller) runSuspended(fn func(*engine.Engine)) {
	c.state.Store(int32(audioSuspended))
	c.waitForRenderToFinish()
	c.inClosure = true
	defer func() { c.inClosure = false }()
	fn(c.engine)
	if !c.IsAudioRunning() {
		c.logger.Warn("suspended closure returned without restarting audio")
	}
}

func (c *Controller) waitForRenderToFinish() {
	for i := 0; c.rendering.Load(); i++ {
		if i < 64 {
			runtime.Gosched()
			continue
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// RestartAudioThreadFromSerial resumes rendering. Everything written to the
// engine before this call is visible to the next render.
func (c *Controller) RestartAudioThreadFromSerial() {
	c.state.Store(int32(audioRunning))
}

// Close stops Run and rejects further commands.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

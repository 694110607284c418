// Package replay drives a reverse debugging session: it executes
// instructions through the emulator adapter, records every step in a
// history store and moves a view over the recorded versions.
package replay

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/willibrandon/ChronoCPU/pkg/changes"
	"github.com/willibrandon/ChronoCPU/pkg/emulator"
	"github.com/willibrandon/ChronoCPU/pkg/history"
	"github.com/willibrandon/ChronoCPU/pkg/metrics"
	"github.com/willibrandon/ChronoCPU/pkg/snapshot"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

var (
	// ErrAtInitialVersion is returned by StepBackward at version 0.
	ErrAtInitialVersion = errors.New("already at the initial version")
	// ErrNotReady is returned when no program is loaded.
	ErrNotReady = errors.New("no program loaded")
	// ErrTerminated is returned after Close.
	ErrTerminated = errors.New("session terminated")
	// ErrReadOnly is returned when a recording without an engine is asked
	// to execute or edit.
	ErrReadOnly = errors.New("recording is read-only")
	// ErrEndOfRecording is returned by StepForward on a read-only recording
	// whose last version is in view.
	ErrEndOfRecording = errors.New("end of recording")
)

// Status is the lifecycle state of a Controller.
type Status int

const (
	Uninitialized Status = iota
	Ready
	Terminated
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Ready:
		return "Ready"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Replayer navigates recorded versions of a session.
type Replayer interface {
	// StepForward shows the next version, executing an instruction when the
	// view is at the frontier.
	StepForward() (state.Snapshot, error)

	// StepBackward shows the previous version.
	StepBackward() (state.Snapshot, error)

	// JumpToVersion shows version v.
	JumpToVersion(v state.Version) (state.Snapshot, error)

	// Current returns the snapshot in view.
	Current() (state.Snapshot, error)

	// ViewVersion returns the version in view.
	ViewVersion() state.Version

	// Frontier returns the highest recorded version.
	Frontier() state.Version
}

// DefaultKeyframeInterval is the number of versions between two saved
// engine contexts.
const DefaultKeyframeInterval = 64

// Options configures a Controller.
type Options struct {
	// Engine names a registered emulator engine. Ignored when Factory is set.
	Engine  string
	Factory emulator.Factory
	Mode    emulator.Mode
	Logger  *slog.Logger
	// KeyframeInterval is how often the engine context is saved. Resuming
	// from another version restores the closest earlier keyframe and
	// re-executes up to it. Zero means DefaultKeyframeInterval.
	KeyframeInterval int
}

// DefaultOptions returns options for the unicorn engine in 32-bit mode.
func DefaultOptions() Options {
	return Options{
		Engine:           "unicorn",
		Mode:             emulator.Mode32,
		KeyframeInterval: DefaultKeyframeInterval,
	}
}

type keyframe struct {
	version state.Version
	ctx     emulator.Context
}

type edit struct {
	register state.RegisterID
	address  uint64
	value    []byte
}

// Controller runs one reverse debugging session. It owns the session's
// version store and its engine adapter. It is not safe for concurrent use.
type Controller struct {
	opts   Options
	logger *slog.Logger

	status    Status
	readOnly  bool
	program   state.Program
	store     *history.Store
	adapter   *emulator.Adapter
	assembler *snapshot.Assembler

	view state.Version
	// engineAt is the version the engine state matches, or state.NoVersion
	// after a failed step.
	engineAt  state.Version
	keyframes []keyframe
	pending   []edit
}

var _ Replayer = (*Controller)(nil)

// NewController creates an Uninitialized controller.
func NewController(opts Options) *Controller {
	if opts.Mode == 0 {
		opts.Mode = emulator.Mode32
	}
	if opts.KeyframeInterval <= 0 {
		opts.KeyframeInterval = DefaultKeyframeInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		logger: logger,
		store:    history.NewStore(logger),
		view:     state.NoVersion,
		engineAt: state.NoVersion,
	}
}

// NewReadOnly creates a Ready controller over an existing recording. Stepping
// forward past its last version fails with ErrEndOfRecording.
func NewReadOnly(program state.Program, mode emulator.Mode, store *history.Store, logger *slog.Logger) (*Controller, error) {
	if store.Len() == 0 {
		return nil, fmt.Errorf("empty recording: %w", ErrNotReady)
	}
	c := NewController(Options{Mode: mode, Logger: logger})
	c.store = store
	c.program = program.Clone()
	c.readOnly = true
	c.status = Ready
	c.view = 0
	return c, nil
}

// Status returns the lifecycle state.
func (c *Controller) Status() Status {
	return c.status
}

// Program returns the loaded program description.
func (c *Controller) Program() state.Program {
	return c.program.Clone()
}

// Store returns the version store for read access.
func (c *Controller) Store() *history.Store {
	return c.store
}

// Arch returns the register file of the session's mode.
func (c *Controller) Arch() emulator.Arch {
	return emulator.ArchFor(c.opts.Mode)
}

// ViewVersion returns the version in view.
func (c *Controller) ViewVersion() state.Version {
	return c.view
}

// Frontier returns the highest recorded version.
func (c *Controller) Frontier() state.Version {
	return c.store.CurrentVersion()
}

// Pending returns the number of edits waiting for the next live step.
func (c *Controller) Pending() int {
	return len(c.pending)
}

// LoadProgram starts a session: it opens an engine, loads p into it and
// records version 0. Loading over a Ready session replaces it.
func (c *Controller) LoadProgram(p state.Program) (state.Snapshot, error) {
	if c.status == Terminated {
		return state.Snapshot{}, ErrTerminated
	}
	if err := p.Validate(); err != nil {
		return state.Snapshot{}, err
	}
	arch := emulator.ArchFor(c.opts.Mode)
	if err := arch.Check(p); err != nil {
		return state.Snapshot{}, err
	}

	engine, err := c.openEngine()
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("failed to open engine: %w", err)
	}
	adapter := emulator.NewAdapter(engine, c.opts.Mode, c.logger)
	if err := adapter.Load(p); err != nil {
		adapter.Close()
		return state.Snapshot{}, fmt.Errorf("failed to load program: %w", err)
	}
	assembler := snapshot.NewAssembler(p)
	initial, err := assembler.Initial(adapter)
	if err != nil {
		adapter.Close()
		return state.Snapshot{}, fmt.Errorf("failed to read initial state: %w", err)
	}
	ctx, err := adapter.SaveContext()
	if err != nil {
		adapter.Close()
		return state.Snapshot{}, fmt.Errorf("failed to save initial context: %w", err)
	}

	c.release()
	c.adapter = adapter
	c.assembler = assembler
	c.program = p.Clone()
	c.readOnly = false
	c.store.Reset()
	c.view = c.store.RecordStep(initial)
	c.engineAt = c.view
	c.keyframes = []keyframe{{version: c.view, ctx: ctx}}
	c.pending = nil
	c.status = Ready
	metrics.SessionsOpen.Inc()
	c.logger.Info("program loaded", "code_bytes", len(p.Code), "ip", initial.InstructionPointer.Address)
	return initial, nil
}

func (c *Controller) openEngine() (emulator.Engine, error) {
	if c.opts.Factory != nil {
		return c.opts.Factory(c.opts.Mode)
	}
	return emulator.OpenEngine(c.opts.Engine, c.opts.Mode)
}

func (c *Controller) ready() error {
	switch c.status {
	case Ready:
		return nil
	case Terminated:
		return ErrTerminated
	default:
		return ErrNotReady
	}
}

// Current returns the snapshot in view.
func (c *Controller) Current() (state.Snapshot, error) {
	if err := c.ready(); err != nil {
		return state.Snapshot{}, err
	}
	return c.store.GetVersion(c.view)
}

// StepForward advances the view by one version. Behind the frontier the
// recorded snapshot is replayed without touching the engine, unless edits
// are pending: then the recorded future is discarded and execution resumes
// from the view. At the frontier one instruction is executed and recorded.
func (c *Controller) StepForward() (state.Snapshot, error) {
	if err := c.ready(); err != nil {
		return state.Snapshot{}, err
	}
	if c.view < c.Frontier() && len(c.pending) == 0 {
		snap, err := c.store.GetVersion(c.view + 1)
		if err != nil {
			return state.Snapshot{}, err
		}
		c.view++
		metrics.StepsTotal.WithLabelValues("replay").Inc()
		c.logger.Debug("replayed step", "version", c.view, "ip", snap.InstructionPointer.Address)
		return snap, nil
	}
	if c.readOnly {
		return state.Snapshot{}, ErrEndOfRecording
	}
	return c.execute()
}

// execute runs one instruction from the view version and records it. On any
// failure nothing is recorded and the engine is resynchronised by the next
// live step.
func (c *Controller) execute() (state.Snapshot, error) {
	start := time.Now()
	frontier := c.Frontier()
	next := c.view + 1

	snap, err := c.executeFrom(c.view)
	var kf *keyframe
	// Re-execution from a keyframe does not replay edits, so a step that
	// applied edits always gets its own keyframe.
	if err == nil && (len(c.pending) > 0 || int(next)%c.opts.KeyframeInterval == 0) {
		var ctx emulator.Context
		if ctx, err = c.adapter.SaveContext(); err == nil {
			kf = &keyframe{version: next, ctx: ctx}
		}
	}
	if err != nil {
		c.engineAt = state.NoVersion
		var readErr *emulator.EngineReadError
		if errors.As(err, &readErr) {
			metrics.EngineErrorsTotal.WithLabelValues(readErr.Op).Inc()
		}
		c.logger.Warn("step failed", "version", c.view, "error", err)
		return state.Snapshot{}, err
	}

	if c.view < frontier {
		if err := c.store.TruncateAfter(c.view); err != nil {
			return state.Snapshot{}, err
		}
		c.dropKeyframesAfter(c.view)
		metrics.TruncationsTotal.Inc()
		metrics.DiscardedVersionsTotal.Add(float64(frontier - c.view))
	}
	c.view = c.store.RecordStep(snap)
	c.engineAt = c.view
	c.pending = nil
	if kf != nil {
		c.keyframes = append(c.keyframes, *kf)
	}

	metrics.StepsTotal.WithLabelValues("live").Inc()
	metrics.StepDuration.Observe(time.Since(start).Seconds())
	return snap, nil
}

func (c *Controller) executeFrom(v state.Version) (state.Snapshot, error) {
	prev, err := c.store.GetVersion(v)
	if err != nil {
		return state.Snapshot{}, err
	}
	if err := c.seek(v); err != nil {
		return state.Snapshot{}, err
	}
	for _, e := range c.pending {
		if err := c.apply(e); err != nil {
			return state.Snapshot{}, err
		}
	}

	inst, accessed, err := c.adapter.Step()
	if err != nil {
		return state.Snapshot{}, err
	}
	snap, err := c.assembler.Assemble(c.adapter, inst, accessed, prev)
	if err != nil {
		return state.Snapshot{}, err
	}
	snap.ChangeHistory = changes.Collect(prev, snap)
	return snap, nil
}

// seek brings the engine to the state it had right after version v was
// recorded: it restores the closest keyframe at or before v and re-executes
// the recorded steps in between.
func (c *Controller) seek(v state.Version) error {
	if c.engineAt == v {
		return nil
	}
	c.engineAt = state.NoVersion
	i, found := slices.BinarySearchFunc(c.keyframes, v, func(k keyframe, v state.Version) int {
		return cmp.Compare(k.version, v)
	})
	if !found {
		i--
	}
	if i < 0 {
		return fmt.Errorf("no keyframe at or before version %d", v)
	}
	k := c.keyframes[i]
	if err := c.adapter.RestoreContext(k.ctx); err != nil {
		return err
	}
	for range v - k.version {
		if _, _, err := c.adapter.Step(); err != nil {
			return fmt.Errorf("re-execute from keyframe %d: %w", k.version, err)
		}
	}
	c.engineAt = v
	c.logger.Debug("engine resumed from keyframe", "keyframe", k.version, "version", v)
	return nil
}

func (c *Controller) dropKeyframesAfter(v state.Version) {
	n := len(c.keyframes)
	for n > 0 && c.keyframes[n-1].version > v {
		n--
	}
	clear(c.keyframes[n:])
	c.keyframes = c.keyframes[:n]
}

func (c *Controller) apply(e edit) error {
	if e.register != "" {
		return c.adapter.WriteRegister(e.register, e.value)
	}
	return c.adapter.WriteMemory(e.address, e.value)
}

// StepBackward moves the view back one version. Neither the store nor the
// engine changes.
func (c *Controller) StepBackward() (state.Snapshot, error) {
	if err := c.ready(); err != nil {
		return state.Snapshot{}, err
	}
	if c.view <= 0 {
		return state.Snapshot{}, ErrAtInitialVersion
	}
	snap, err := c.store.GetVersion(c.view - 1)
	if err != nil {
		return state.Snapshot{}, err
	}
	c.view--
	metrics.BackwardStepsTotal.Inc()
	return snap, nil
}

// JumpToVersion moves the view to v.
func (c *Controller) JumpToVersion(v state.Version) (state.Snapshot, error) {
	if err := c.ready(); err != nil {
		return state.Snapshot{}, err
	}
	snap, err := c.store.GetVersion(v)
	if err != nil {
		return state.Snapshot{}, err
	}
	if v < c.view {
		metrics.BackwardStepsTotal.Inc()
	}
	c.view = v
	return snap, nil
}

// SetMemory queues a write of data at addr. It takes effect at the next
// live step; if the view is behind the frontier, that step discards the
// recorded future.
func (c *Controller) SetMemory(addr uint64, data []byte) error {
	if err := c.editable(); err != nil {
		return err
	}
	if !c.tracked(addr, uint64(len(data))) {
		return fmt.Errorf("%w: %#x+%d is outside the tracked regions", state.ErrInvalidProgram, addr, len(data))
	}
	c.pending = append(c.pending, edit{address: addr, value: bytes.Clone(data)})
	return nil
}

// SetRegister queues a register write, like SetMemory.
func (c *Controller) SetRegister(id state.RegisterID, value []byte) error {
	if err := c.editable(); err != nil {
		return err
	}
	width, ok := c.Arch().Width(id)
	if !ok {
		return fmt.Errorf("%w: %s", emulator.ErrUnknownRegister, id)
	}
	if len(value) > width {
		return fmt.Errorf("value of %d bytes does not fit %s (%d bytes)", len(value), id, width)
	}
	c.pending = append(c.pending, edit{register: id, value: bytes.Clone(value)})
	return nil
}

func (c *Controller) editable() error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (c *Controller) tracked(addr, size uint64) bool {
	if size == 0 {
		return false
	}
	for _, r := range c.program.Regions() {
		if addr >= r.Address && addr+size <= r.End() {
			return true
		}
	}
	return false
}

// Run steps forward until stop returns true for a snapshot, maxSteps steps
// were taken (when positive), a step fails or ctx is done. ctx is checked
// between steps only; a single instruction is never interrupted.
func (c *Controller) Run(ctx context.Context, stop func(state.Snapshot) bool, maxSteps int) (state.Snapshot, int, error) {
	var last state.Snapshot
	steps := 0
	for maxSteps <= 0 || steps < maxSteps {
		if err := ctx.Err(); err != nil {
			return last, steps, err
		}
		snap, err := c.StepForward()
		if err != nil {
			return last, steps, err
		}
		last = snap
		steps++
		if stop != nil && stop(snap) {
			break
		}
	}
	return last, steps, nil
}

// Reset discards the session and releases the engine. The controller goes
// back to Uninitialized.
func (c *Controller) Reset() error {
	if c.status == Terminated {
		return ErrTerminated
	}
	err := c.release()
	c.store.Reset()
	c.program = state.Program{}
	c.readOnly = false
	c.view = state.NoVersion
	c.status = Uninitialized
	return err
}

// Close ends the session and releases the engine. Later calls are no-ops.
func (c *Controller) Close() error {
	if c.status == Terminated {
		return nil
	}
	err := c.release()
	c.status = Terminated
	c.logger.Info("session closed", "versions", c.store.Len())
	return err
}

func (c *Controller) release() error {
	c.keyframes = nil
	c.engineAt = state.NoVersion
	c.pending = nil
	c.assembler = nil
	if c.adapter == nil {
		return nil
	}
	err := c.adapter.Close()
	c.adapter = nil
	metrics.SessionsOpen.Dec()
	return err
}

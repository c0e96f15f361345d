// Package wizard is a generic multi-step flow: an index over a fixed list of
// steps, a data record shared by all steps, and modal visibility.
package wizard

import (
	"errors"
	"sync"
	"time"
)

const defaultResetDelay = 200 * time.Millisecond

// ErrStepOutOfRange is returned by GoTo for an index outside the steps.
var ErrStepOutOfRange = errors.New("step index out of range")

// CloseReason tells how the user asked to close the wizard.
type CloseReason string

const (
	CloseExplicit CloseReason = "explicit"
	CloseOverlay  CloseReason = "overlay"
	CloseEscape   CloseReason = "escape"
)

// Step is one screen of the flow. Validate, when set, must pass before Next
// leaves the step.
type Step[T any] struct {
	ID             string
	Title          string
	Description    string
	HideBackButton bool
	HideTitle      bool
	Validate       func(data T) error
}

// Snapshot is a consistent view of the wizard at one moment.
type Snapshot[T any] struct {
	Index   int
	Total   int
	Step    Step[T]
	Data    T
	Open    bool
	IsFirst bool
	IsLast  bool
}

type config[T any] struct {
	initial             T
	onComplete          func(T)
	onStepChange        func(int, T)
	onOpenChange        func(bool)
	asModal             bool
	closeOnOverlayClick bool
	closeOnEscape       bool
	resetOnClose        bool
	resetDelay          time.Duration
	afterFunc           func(time.Duration, func()) func() bool
}

// Option configures a Wizard.
type Option[T any] func(*config[T])

func WithInitialData[T any](data T) Option[T] {
	return func(c *config[T]) { c.initial = data }
}

// OnComplete runs when Next is called on the last step and its validation passes.
func OnComplete[T any](fn func(data T)) Option[T] {
	return func(c *config[T]) { c.onComplete = fn }
}

// OnStepChange runs after every index change.
func OnStepChange[T any](fn func(index int, data T)) Option[T] {
	return func(c *config[T]) { c.onStepChange = fn }
}

// OnOpenChange runs after the visibility flips.
func OnOpenChange[T any](fn func(open bool)) Option[T] {
	return func(c *config[T]) { c.onOpenChange = fn }
}

func AsModal[T any](modal bool) Option[T] {
	return func(c *config[T]) { c.asModal = modal }
}

func CloseOnOverlayClick[T any](enabled bool) Option[T] {
	return func(c *config[T]) { c.closeOnOverlayClick = enabled }
}

func CloseOnEscape[T any](enabled bool) Option[T] {
	return func(c *config[T]) { c.closeOnEscape = enabled }
}

// ResetOnClose restores the first step and the initial data once the close
// transition delay has elapsed.
func ResetOnClose[T any](enabled bool) Option[T] {
	return func(c *config[T]) { c.resetOnClose = enabled }
}

func ResetDelay[T any](d time.Duration) Option[T] {
	return func(c *config[T]) {
		if d >= 0 {
			c.resetDelay = d
		}
	}
}

// Wizard is safe for concurrent use. Callbacks run outside the internal lock
// and may call back into the wizard.
type Wizard[T any] struct {
	mu         sync.Mutex
	steps      []Step[T]
	cfg        config[T]
	index      int
	data       T
	open       bool
	generation uint64
	stopReset  func() bool
}

// New creates a wizard over steps, positioned on the first one. It panics
// when steps is empty.
func New[T any](steps []Step[T], opts ...Option[T]) *Wizard[T] {
	if len(steps) == 0 {
		panic("wizard: at least one step is required")
	}

	cfg := config[T]{
		asModal:             true,
		closeOnOverlayClick: true,
		closeOnEscape:       true,
		resetOnClose:        true,
		resetDelay:          defaultResetDelay,
		afterFunc: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	copied := make([]Step[T], len(steps))
	copy(copied, steps)

	return &Wizard[T]{
		steps: copied,
		cfg:   cfg,
		data:  cfg.initial,
	}
}

// Next validates the current step and advances. On the last step it calls
// OnComplete instead and reports completed; the index never passes the end.
func (w *Wizard[T]) Next() (completed bool, err error) {
	w.mu.Lock()
	step := w.steps[w.index]
	data := w.data
	if step.Validate != nil {
		if err := step.Validate(data); err != nil {
			w.mu.Unlock()
			return false, err
		}
	}

	if w.index == len(w.steps)-1 {
		onComplete := w.cfg.onComplete
		w.mu.Unlock()

		if onComplete != nil {
			onComplete(data)
		}
		return true, nil
	}

	w.index++
	index := w.index
	w.mu.Unlock()

	w.notifyStep(index, data)
	return false, nil
}

// Previous steps back without validation. At the first step it stays put and
// returns false.
func (w *Wizard[T]) Previous() bool {
	w.mu.Lock()
	if w.index == 0 {
		w.mu.Unlock()
		return false
	}
	w.index--
	index, data := w.index, w.data
	w.mu.Unlock()

	w.notifyStep(index, data)
	return true
}

// GoTo jumps to index without validation.
func (w *Wizard[T]) GoTo(index int) error {
	w.mu.Lock()
	if index < 0 || index >= len(w.steps) {
		w.mu.Unlock()
		return ErrStepOutOfRange
	}
	changed := w.index != index
	w.index = index
	data := w.data
	w.mu.Unlock()

	if changed {
		w.notifyStep(index, data)
	}
	return nil
}

// Update mutates the shared data in place. Later writes to a field win.
func (w *Wizard[T]) Update(fn func(data *T)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.data)
}

// SetData replaces the shared data.
func (w *Wizard[T]) SetData(data T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data = data
}

// Data returns the shared data.
func (w *Wizard[T]) Data() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data
}

// Index returns the current step index.
func (w *Wizard[T]) Index() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index
}

// IsOpen reports the visibility.
func (w *Wizard[T]) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Modal reports whether the wizard renders as an overlay.
func (w *Wizard[T]) Modal() bool {
	return w.cfg.asModal
}

// Steps returns the step definitions.
func (w *Wizard[T]) Steps() []Step[T] {
	out := make([]Step[T], len(w.steps))
	copy(out, w.steps)
	return out
}

// Snapshot returns the current state.
func (w *Wizard[T]) Snapshot() Snapshot[T] {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Snapshot[T]{
		Index:   w.index,
		Total:   len(w.steps),
		Step:    w.steps[w.index],
		Data:    w.data,
		Open:    w.open,
		IsFirst: w.index == 0,
		IsLast:  w.index == len(w.steps)-1,
	}
}

// Open shows the wizard and cancels a pending reset from an earlier close.
func (w *Wizard[T]) Open() {
	w.mu.Lock()
	w.cancelResetLocked()
	if w.open {
		w.mu.Unlock()
		return
	}
	w.open = true
	onOpenChange := w.cfg.onOpenChange
	w.mu.Unlock()

	if onOpenChange != nil {
		onOpenChange(true)
	}
}

// Close hides the wizard. Overlay and escape closes are ignored unless
// enabled, and closing a closed wizard does nothing; both return false.
func (w *Wizard[T]) Close(reason CloseReason) bool {
	w.mu.Lock()
	switch {
	case !w.open,
		reason == CloseOverlay && !w.cfg.closeOnOverlayClick,
		reason == CloseEscape && !w.cfg.closeOnEscape:
		w.mu.Unlock()
		return false
	}

	w.open = false
	if w.cfg.resetOnClose {
		w.scheduleResetLocked()
	}
	onOpenChange := w.cfg.onOpenChange
	w.mu.Unlock()

	if onOpenChange != nil {
		onOpenChange(false)
	}
	return true
}

// Reset immediately restores the first step and the initial data.
func (w *Wizard[T]) Reset() {
	w.mu.Lock()
	w.cancelResetLocked()
	w.index = 0
	w.data = w.cfg.initial
	w.mu.Unlock()
}

func (w *Wizard[T]) scheduleResetLocked() {
	w.cancelResetLocked()
	generation := w.generation

	w.stopReset = w.cfg.afterFunc(w.cfg.resetDelay, func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		if w.generation != generation || w.open {
			return
		}
		w.index = 0
		w.data = w.cfg.initial
		w.stopReset = nil
	})
}

func (w *Wizard[T]) cancelResetLocked() {
	w.generation++
	if w.stopReset != nil {
		w.stopReset()
		w.stopReset = nil
	}
}

func (w *Wizard[T]) notifyStep(index int, data T) {
	if w.cfg.onStepChange != nil {
		w.cfg.onStepChange(index, data)
	}
}

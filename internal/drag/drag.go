// Package drag turns a vertical drag over an event card into a snapped,
// duration-preserving reschedule.
//
// A Controller owns the gesture state of exactly one card:
//
//	Idle -> Dragging -> Committing -> Idle   (drop, then Confirm or Rollback)
//	Idle -> Dragging -> Cancelled  -> Idle   (returned under the threshold)
//	Idle -> Idle                             (tap: opens the detail view)
//
// Movement is judged by total vertical displacement at release, so a
// gesture that crossed the threshold and came back is still a tap.
package drag

import (
	"errors"
	"fmt"
	"math"

	"dayplanner/internal/model"
	"dayplanner/internal/timecoord"
)

const (
	// DefaultThresholdPx separates a tap from a drag.
	DefaultThresholdPx = 5.0
	// DefaultSnapMinutes is the grid a dropped card snaps to.
	DefaultSnapMinutes = 15
)

var (
	ErrNotCommitting = errors.New("drag: no commit is pending")
	ErrCommitPending = errors.New("drag: previous drop is still awaiting confirm or rollback")
	ErrNotPressed    = errors.New("drag: no gesture in progress")
)

type State int

const (
	Idle State = iota
	Dragging
	Committing
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Committing:
		return "committing"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is what a release resolved to.
type Outcome int

const (
	OutcomeTap Outcome = iota + 1
	OutcomeNoop
	OutcomeCommit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTap:
		return "tap"
	case OutcomeNoop:
		return "noop"
	case OutcomeCommit:
		return "commit"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Config struct {
	Scale       timecoord.Scale
	ThresholdPx float64
	SnapMinutes int
}

// DefaultConfig uses the reference scale, threshold and grid.
func DefaultConfig() Config {
	return Config{
		Scale:       timecoord.DefaultScale(),
		ThresholdPx: DefaultThresholdPx,
		SnapMinutes: DefaultSnapMinutes,
	}
}

// Commit is the reschedule emitted on a successful drop.
type Commit struct {
	Event    model.Event
	NewStart timecoord.TimeOfDay
	NewEnd   timecoord.TimeOfDay
	// Top is the snapped card position the controller animated to.
	Top float64
}

// Hooks are optional callbacks; nil hooks are skipped.
type Hooks struct {
	// OnDrop receives the commit. The caller persists it and later calls
	// Confirm or Rollback; the controller never waits for it.
	OnDrop func(Commit)
	// OnOpen is the tap action that opens the card's detail view.
	OnOpen func(model.Event)
	// OnTransition observes every state change.
	OnTransition func(from, to State)
}

type Controller struct {
	cfg   Config
	hooks Hooks

	event      model.Event
	restingTop float64

	state   State
	pressed bool
	offsetY float64
	pending *Commit
}

// New validates ev and places its card at its resting position.
func New(ev model.Event, cfg Config, hooks Hooks) (*Controller, error) {
	if cfg.ThresholdPx <= 0 {
		cfg.ThresholdPx = DefaultThresholdPx
	}
	if cfg.SnapMinutes <= 0 {
		cfg.SnapMinutes = DefaultSnapMinutes
	}
	d, err := ev.DurationMinutes()
	if err != nil {
		return nil, fmt.Errorf("drag: %w", err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("drag: event %s: %w", ev.ID, model.ErrEmptyInterval)
	}
	top, err := cfg.Scale.Top(ev.Start)
	if err != nil {
		return nil, fmt.Errorf("drag: %w", err)
	}
	return &Controller{cfg: cfg, hooks: hooks, event: ev, restingTop: top}, nil
}

func (c *Controller) State() State        { return c.state }
func (c *Controller) Event() model.Event  { return c.event }
func (c *Controller) RestingTop() float64 { return c.restingTop }

// Top is where the card is drawn right now.
func (c *Controller) Top() float64 {
	if c.state == Committing && c.pending != nil {
		return c.pending.Top
	}
	return c.restingTop + c.offsetY
}

// Press starts tracking a gesture.
func (c *Controller) Press() error {
	if c.state == Committing {
		return ErrCommitPending
	}
	c.pressed = true
	c.offsetY = 0
	return nil
}

// Move reports the total displacement since Press. Horizontal movement
// is ignored. Below the threshold the card does not move.
func (c *Controller) Move(dx, dy float64) {
	if !c.pressed {
		return
	}
	if c.state == Idle && c.beyondThreshold(dy) {
		c.transition(Dragging)
	}
	if c.state == Dragging {
		c.offsetY = dy
	}
}

// Release ends the gesture with total displacement (dx, dy).
func (c *Controller) Release(dx, dy float64) (Outcome, *Commit, error) {
	if !c.pressed {
		return 0, nil, ErrNotPressed
	}
	c.pressed = false

	if !c.beyondThreshold(dy) {
		if c.state == Dragging {
			c.transition(Cancelled)
		}
		c.settle()
		if c.hooks.OnOpen != nil {
			c.hooks.OnOpen(c.event)
		}
		return OutcomeTap, nil, nil
	}
	if c.state == Idle {
		c.transition(Dragging)
	}

	commit, changed, err := c.computeDrop(dy)
	if err != nil {
		c.settle()
		return 0, nil, err
	}
	if !changed {
		c.settle()
		return OutcomeNoop, nil, nil
	}

	c.pending = &commit
	c.offsetY = 0
	c.transition(Committing)
	if c.hooks.OnDrop != nil {
		c.hooks.OnDrop(commit)
	}
	return OutcomeCommit, &commit, nil
}

// Cancel abandons an in-flight gesture without opening or committing.
func (c *Controller) Cancel() {
	if !c.pressed {
		return
	}
	c.pressed = false
	if c.state == Dragging {
		c.transition(Cancelled)
	}
	c.settle()
}

// Confirm is called once the drop has been durably saved: the snapped
// position becomes the card's resting position.
func (c *Controller) Confirm() error {
	if c.state != Committing || c.pending == nil {
		return ErrNotCommitting
	}
	c.event = c.event.WithTimes(c.pending.NewStart, c.pending.NewEnd)
	c.restingTop = c.pending.Top
	c.pending = nil
	c.transition(Idle)
	return nil
}

// Rollback reverts the card to its original position after the caller
// failed to save the drop.
func (c *Controller) Rollback() error {
	if c.state != Committing || c.pending == nil {
		return ErrNotCommitting
	}
	c.pending = nil
	c.offsetY = 0
	c.transition(Idle)
	return nil
}

func (c *Controller) computeDrop(dy float64) (Commit, bool, error) {
	origStart, err := c.event.StartOffset()
	if err != nil {
		return Commit{}, false, err
	}
	duration, err := c.event.DurationMinutes()
	if err != nil {
		return Commit{}, false, err
	}

	rawTop := c.restingTop + dy
	snapped := timecoord.Snap(c.cfg.Scale.ToOffset(rawTop), c.cfg.SnapMinutes)

	// Keep the whole card inside the logical day on a grid line; the last
	// representable end offset is MinutesPerDay-1.
	maxStart := ((timecoord.MinutesPerDay - 1 - duration) / c.cfg.SnapMinutes) * c.cfg.SnapMinutes
	snapped = max(0, min(snapped, maxStart))

	// A drop never moves the card against the drag. The clamp can do that
	// for a card past the last grid line, snapping for an off-grid start.
	if snapped == origStart || (dy > 0 && snapped < origStart) || (dy < 0 && snapped > origStart) {
		return Commit{}, false, nil
	}

	return Commit{
		Event:    c.event,
		NewStart: timecoord.FromDayOffset(snapped),
		NewEnd:   timecoord.FromDayOffset(snapped + duration),
		Top:      c.cfg.Scale.ToPixels(float64(snapped)),
	}, true, nil
}

func (c *Controller) beyondThreshold(dy float64) bool {
	return math.Abs(dy) >= c.cfg.ThresholdPx
}

// settle returns the card to rest and the machine to Idle.
func (c *Controller) settle() {
	c.offsetY = 0
	if c.state != Idle {
		c.transition(Idle)
	}
}

func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	if c.hooks.OnTransition != nil && from != to {
		c.hooks.OnTransition(from, to)
	}
}

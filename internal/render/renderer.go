// Package render turns the note queue into a 48-cell beat display. It runs
// on the display's refresh cadence and never touches the scheduler; the
// only shared state is the queue and the audio clock's read-only Now.
package render

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/cbegin/clicktrack/internal/notequeue"
	"github.com/cbegin/clicktrack/internal/sequencer"
)

// DefaultRefresh approximates a 60 Hz display.
const DefaultRefresh = time.Second / 60

// CellState is how a single subdivision cell is painted.
type CellState int

const (
	CellIdle CellState = iota
	CellCurrent
	CellCurrentQuarter // current and on a quarter-note position
)

var (
	IdleColor           = color.RGBA{255, 255, 255, 255}
	CurrentColor        = color.RGBA{0, 0, 255, 255}
	CurrentQuarterColor = color.RGBA{255, 0, 0, 255}
)

func (s CellState) Color() color.RGBA {
	switch s {
	case CellCurrent:
		return CurrentColor
	case CellCurrentQuarter:
		return CurrentQuarterColor
	default:
		return IdleColor
	}
}

// StateFor returns how cell index paints when current is the active cell.
func StateFor(index, current int) CellState {
	if index != current {
		return CellIdle
	}
	if current%12 == 0 {
		return CellCurrentQuarter
	}
	return CellCurrent
}

// Surface is a drawing target that is cleared and fully redrawn per repaint.
type Surface interface {
	Clear()
	DrawCell(index int, state CellState)
}

// Flusher is implemented by surfaces that present a frame as a unit.
type Flusher interface {
	Flush()
}

type Clock interface {
	Now() float64
}

// Source is the consumer side of the note queue.
type Source interface {
	PeekDue(now float64) (notequeue.Event, bool)
}

type Renderer struct {
	source  Source
	clock   Clock
	surface Surface

	painted  int // -1 until the first event arrives
	dirty    bool
	repaints uint64
}

func New(source Source, clock Clock, surface Surface) *Renderer {
	return &Renderer{
		source:  source,
		clock:   clock,
		surface: surface,
		painted: -1,
		dirty:   true,
	}
}

// Frame drains every due queue entry and repaints if the current cell
// changed. It reports whether a repaint happened.
func (r *Renderer) Frame() bool {
	now := r.clock.Now()
	current := r.painted
	for {
		ev, ok := r.source.PeekDue(now)
		if !ok {
			break
		}
		current = ev.Index
	}
	if current == r.painted && !r.dirty {
		return false
	}
	r.surface.Clear()
	for i := 0; i < sequencer.Subdivisions; i++ {
		r.surface.DrawCell(i, StateFor(i, current))
	}
	if f, ok := r.surface.(Flusher); ok {
		f.Flush()
	}
	r.painted = current
	r.dirty = false
	r.repaints++
	return true
}

// Invalidate forces the next frame to repaint, e.g. after a resize cleared
// the surface.
func (r *Renderer) Invalidate() {
	r.dirty = true
}

// Current is the last painted subdivision, or -1.
func (r *Renderer) Current() int { return r.painted }

func (r *Renderer) Repaints() uint64 { return r.repaints }

// Run calls Frame every refresh until ctx is done.
func (r *Renderer) Run(ctx context.Context, refresh time.Duration) {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	t := time.NewTicker(refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Frame()
		}
	}
}

// Layout places the 48 cells on a pixel surface of the given width: squares
// two units on a side, stepped one unit apart from one unit in. Cells paint
// in index order, so the right half of each sits under the next.
type Layout struct {
	Unit int
}

func NewLayout(width int) Layout {
	unit := width / (sequencer.Subdivisions + 2)
	if unit < 1 {
		unit = 1
	}
	return Layout{Unit: unit}
}

func (l Layout) Cell(index int) image.Rectangle {
	x := l.Unit * (index + 1)
	return image.Rect(x, l.Unit, x+2*l.Unit, 3*l.Unit)
}

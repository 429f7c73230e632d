package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/clicktrack/internal/render"
	"github.com/cbegin/clicktrack/internal/sequencer"
)

// cellSurface keeps the last painted frame for View to style.
type cellSurface struct {
	cells []render.CellState
	view  string
	width int
}

func newCellSurface() *cellSurface {
	return &cellSurface{cells: make([]render.CellState, sequencer.Subdivisions)}
}

func (s *cellSurface) Clear() {
	for i := range s.cells {
		s.cells[i] = render.CellIdle
	}
	s.view = ""
}

func (s *cellSurface) DrawCell(index int, state render.CellState) {
	s.cells[index] = state
	s.view = ""
}

func cellStyle(state render.CellState) lipgloss.Style {
	c := state.Color()
	hex := lipgloss.Color(rgbHex(c.R, c.G, c.B))
	return lipgloss.NewStyle().Background(hex)
}

func rgbHex(r, g, b uint8) string {
	const digits = "0123456789abcdef"
	return string([]byte{'#',
		digits[r>>4], digits[r&0xf],
		digits[g>>4], digits[g&0xf],
		digits[b>>4], digits[b&0xf],
	})
}

// View renders the cells one column each, or two when the terminal is wide
// enough. Styling runs once per repaint.
func (s *cellSurface) View(width int) string {
	if s.view != "" && s.width == width {
		return s.view
	}
	cellWidth := 1
	if width >= 2*len(s.cells)+2 {
		cellWidth = 2
	}
	pad := strings.Repeat(" ", cellWidth)
	var b strings.Builder
	for _, st := range s.cells {
		b.WriteString(cellStyle(st).Render(pad))
	}
	s.view = b.String()
	s.width = width
	return s.view
}

// Highlighted returns the painted cell and its state, or -1.
func (s *cellSurface) Highlighted() (int, render.CellState) {
	for i, st := range s.cells {
		if st != render.CellIdle {
			return i, st
		}
	}
	return -1, render.CellIdle
}

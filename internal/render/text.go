package render

import (
	"io"
)

// TextSurface prints one line per repaint: '.' idle, 'o' current and 'O'
// current on a quarter note.
type TextSurface struct {
	w     io.Writer
	cells []byte
}

func NewTextSurface(w io.Writer) *TextSurface {
	return &TextSurface{w: w, cells: make([]byte, 0, 64)}
}

func (s *TextSurface) Clear() {
	s.cells = s.cells[:0]
}

func (s *TextSurface) DrawCell(index int, state CellState) {
	for len(s.cells) <= index {
		s.cells = append(s.cells, ' ')
	}
	switch state {
	case CellCurrent:
		s.cells[index] = 'o'
	case CellCurrentQuarter:
		s.cells[index] = 'O'
	default:
		s.cells[index] = '.'
	}
}

func (s *TextSurface) Flush() {
	line := append(s.cells, '\r')
	_, _ = s.w.Write(line)
	s.cells = line[:len(line)-1]
}

// Line returns the cells painted so far.
func (s *TextSurface) Line() string {
	return string(s.cells)
}

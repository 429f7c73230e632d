package main

import (
	"fmt"
	"image/color"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/clicktrack"
	"github.com/cbegin/clicktrack/internal/config"
	"github.com/cbegin/clicktrack/internal/render"
	"github.com/cbegin/clicktrack/internal/sequencer"
)

const (
	windowW    = 800
	windowH    = 200
	minWindowW = 400
	minWindowH = 120
	tempoStep  = 5
)

var bgColor = color.RGBA{192, 192, 192, 255}

// imageSurface paints cells into an offscreen image. The image survives
// between repaints and is blitted to the screen every frame.
type imageSurface struct {
	img    *ebiten.Image
	layout render.Layout
}

func (s *imageSurface) Clear() { s.img.Fill(bgColor) }

func (s *imageSurface) DrawCell(index int, state render.CellState) {
	r := s.layout.Cell(index)
	vector.DrawFilledRect(s.img, float32(r.Min.X), float32(r.Min.Y), float32(r.Dx()), float32(r.Dy()), state.Color(), false)
}

type game struct {
	engine   *clicktrack.Engine
	cfg      *config.Config
	surface  *imageSurface
	renderer *render.Renderer
	action   string
	status   string
	viewW    int
	viewH    int
}

func newGame(engine *clicktrack.Engine, cfg *config.Config) *game {
	g := &game{
		engine:  engine,
		cfg:     cfg,
		surface: &imageSurface{},
		action:  "play",
		status:  "Ready",
	}
	g.resize(windowW, windowH)
	g.renderer = render.New(engine.Queue(), engine, g.surface)
	return g
}

// resize replaces the offscreen image and rescales the cell layout.
func (g *game) resize(w, h int) {
	if g.surface.img != nil {
		g.surface.img.Deallocate()
	}
	g.surface.img = ebiten.NewImage(w, h)
	g.surface.layout = render.NewLayout(w)
	g.viewW, g.viewH = w, h
	if g.renderer != nil {
		g.renderer.Invalidate()
	}
}

func (g *game) Update() error {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyEscape), inpututil.IsKeyJustPressed(ebiten.KeyQ):
		return ebiten.Termination
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		g.action = g.engine.Toggle()
	case inpututil.IsKeyJustPressed(ebiten.KeyEqual), inpututil.IsKeyJustPressed(ebiten.KeyUp):
		g.setTempo(g.engine.Tempo() + tempoStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyMinus), inpututil.IsKeyJustPressed(ebiten.KeyDown):
		g.setTempo(g.engine.Tempo() - tempoStep)
	}
	for i, key := range []ebiten.Key{ebiten.KeyDigit1, ebiten.KeyDigit2, ebiten.KeyDigit3, ebiten.KeyDigit4} {
		if inpututil.IsKeyJustPressed(key) {
			if err := g.engine.SetResolution(sequencer.Resolutions[i]); err != nil {
				g.status = err.Error()
			}
		}
	}
	g.renderer.Frame()
	return nil
}

func (g *game) setTempo(bpm float64) {
	if err := g.engine.SetTempo(bpm); err != nil {
		g.status = err.Error()
		return
	}
	g.status = "Ready"
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	screen.DrawImage(g.surface.img, nil)

	stats := g.engine.Stats()
	unit := g.surface.layout.Unit
	y := 3*unit + 8
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%.0f bpm  %s  dropped %d",
		g.engine.Tempo(), g.engine.Resolution(), stats.Dropped), unit, y)
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("space:%s  +/-:tempo  1-4:resolution  q:quit", g.action), unit, y+16)
	ebitenutil.DebugPrintAt(screen, g.status, unit, y+32)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	if outsideW < minWindowW {
		outsideW = minWindowW
	}
	if outsideH < minWindowH {
		outsideH = minWindowH
	}
	if outsideW != g.viewW || outsideH != g.viewH {
		g.resize(outsideW, outsideH)
	}
	return outsideW, outsideH
}

func (g *game) Close() {
	g.cfg.Tempo = g.engine.Tempo()
	g.cfg.Resolution = g.engine.Resolution()
	if err := g.cfg.Save(); err != nil {
		logrus.WithError(err).Warn("save config")
	}
	if err := g.engine.Close(); err != nil {
		logrus.WithError(err).Warn("close engine")
	}
}

var (
	tempoFlag    float64
	logLevelFlag string
)

func setupLogging(levelName string) error {
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

var rootCmd = &cobra.Command{
	Use:           "clicktrack_ui",
	Short:         "Metronome with a 48-cell beat display",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(logLevelFlag); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if tempoFlag > 0 {
			cfg.Tempo = tempoFlag
		}
		engine, err := clicktrack.New(append(clicktrack.ConfigOptions(cfg), clicktrack.WithLogger(logrus.StandardLogger()))...)
		if err != nil {
			return err
		}
		g := newGame(engine, cfg)
		defer g.Close()

		ebiten.SetWindowSize(windowW, windowH)
		ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
		ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
		ebiten.SetWindowTitle("clicktrack")
		return ebiten.RunGame(g)
	},
}

func init() {
	rootCmd.Flags().Float64VarP(&tempoFlag, "tempo", "t", 0, "tempo in BPM (overrides config)")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "info", "log level: debug|info|warn|error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("clicktrack_ui failed")
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/cbegin/clicktrack"
	"github.com/cbegin/clicktrack/internal/config"
	"github.com/cbegin/clicktrack/internal/midiout"
	"github.com/cbegin/clicktrack/internal/render"
	"github.com/cbegin/clicktrack/internal/tui"
)

var flags struct {
	configPath string
	tempo      float64
	resolution string
	volume     float64
	logLevel   string
	logFile    string

	midiPort    string
	midiChannel int
	plain       bool

	out     string
	seconds float64
}

var rootCmd = &cobra.Command{
	Use:           "clicktrack",
	Short:         "A lookahead-scheduled metronome",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the click track in the terminal",
	RunE:  runPlay,
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the click track to a WAV file",
	RunE:  runRender,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer midi.CloseDriver()
		ports := midiout.Ports()
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no MIDI outputs found")
			return nil
		}
		for i, name := range ports {
			fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s\n", i, name)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default ~/.config/clicktrack/config.json)")
	pf.Float64VarP(&flags.tempo, "tempo", "t", 0, "tempo in BPM (overrides config)")
	pf.StringVarP(&flags.resolution, "resolution", "r", "", "16th|8th|quarter|triplet (overrides config)")
	pf.Float64Var(&flags.volume, "volume", -1, "master volume scalar (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	pf.StringVar(&flags.logFile, "log-file", "", "write logs to this file")

	playCmd.Flags().StringVar(&flags.midiPort, "midi-port", "", "send clicks to the MIDI output whose name contains this")
	playCmd.Flags().IntVar(&flags.midiChannel, "midi-channel", -1, "MIDI channel 0-15 (overrides config)")
	playCmd.Flags().BoolVar(&flags.plain, "plain", false, "print a single status line instead of the full UI")

	renderCmd.Flags().StringVarP(&flags.out, "out", "o", "clicktrack.wav", "output WAV path")
	renderCmd.Flags().Float64VarP(&flags.seconds, "seconds", "s", 8, "length in seconds")

	rootCmd.AddCommand(playCmd, renderCmd, portsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging configures the standard logrus logger. Interactive output
// owns the terminal, so without a log file only errors reach stderr.
func setupLogging(interactive bool) (io.Closer, error) {
	level, err := logrus.ParseLevel(flags.logLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flags.logFile == "" {
		if interactive {
			logrus.SetLevel(logrus.ErrorLevel)
		}
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(f)
	return f, nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if flags.tempo != 0 {
		cfg.Tempo = flags.tempo
	}
	if strings.TrimSpace(flags.resolution) != "" {
		r, err := clicktrack.ParseResolution(flags.resolution)
		if err != nil {
			return nil, err
		}
		cfg.Resolution = r
	}
	if flags.volume >= 0 {
		cfg.Volume = flags.volume
	}
	if flags.midiPort != "" {
		cfg.MIDI.Port = flags.midiPort
	}
	if flags.midiChannel >= 0 {
		cfg.MIDI.Channel = flags.midiChannel
	}
	return cfg, cfg.Validate()
}

func runPlay(cmd *cobra.Command, args []string) error {
	closer, err := setupLogging(true)
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := append(clicktrack.ConfigOptions(cfg), clicktrack.WithLogger(logrus.StandardLogger()))
	var dev *midiout.Device
	if cfg.MIDI.Port != "" {
		defer midi.CloseDriver()
		dev, err = midiout.OpenPort(cfg.MIDI.Port,
			midiout.WithChannel(uint8(cfg.MIDI.Channel)),
			midiout.WithLogger(logrus.StandardLogger()))
		if err != nil {
			return err
		}
		go dev.Run(ctx, midiout.DefaultPumpInterval)
		opts = append(opts, clicktrack.WithOutput(dev))
	}

	engine, err := clicktrack.New(opts...)
	if err != nil {
		if dev != nil {
			_ = dev.Close()
		}
		return err
	}
	defer engine.Close()

	if flags.plain {
		return playPlain(ctx, cmd.OutOrStdout(), engine)
	}

	model := tui.NewModel(engine, cfg)
	model.ConfigPath = flags.configPath
	final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() == nil {
		return err
	}
	if m, ok := final.(tui.Model); ok && m.Err() != nil {
		return m.Err()
	}
	return nil
}

// playPlain prints the 48 cells on one line until interrupted.
func playPlain(ctx context.Context, w io.Writer, engine *clicktrack.Engine) error {
	fmt.Fprintf(w, "%.0f bpm, %s; Ctrl-C to stop\n", engine.Tempo(), engine.Resolution())
	r := render.New(engine.Queue(), engine, render.NewTextSurface(w))
	engine.Start()
	r.Run(ctx, render.DefaultRefresh)
	engine.Stop()
	stats := engine.Stats()
	fmt.Fprintf(w, "\nstopped after %s, %d clicks, %d dropped\n",
		engine.Elapsed().Round(time.Second), stats.Scheduled, stats.Dropped)
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	closer, err := setupLogging(false)
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	settings := clicktrack.RenderSettingsFromConfig(cfg)
	samples, err := clicktrack.RenderClickTrack(settings, flags.seconds)
	if err != nil {
		return err
	}
	wav := clicktrack.EncodeWAVFloat32LE(samples, settings.SampleRate, 2)
	if err := os.WriteFile(flags.out, wav, 0o644); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"tempo":      cfg.Tempo,
		"resolution": cfg.Resolution,
		"seconds":    flags.seconds,
	}).Debug("rendered click track")
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", flags.out, humanize.Bytes(uint64(len(wav))))
	return nil
}

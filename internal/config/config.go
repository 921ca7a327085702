// Package config loads the YAML configuration shared by the command line
// tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrjoshuak/go-adder/framer"
	"github.com/mrjoshuak/go-adder/internal/sink"
)

// Config is the top-level configuration file.
type Config struct {
	Framer    Framer    `yaml:"framer"`
	Sink      Sink      `yaml:"sink"`
	Broadcast Broadcast `yaml:"broadcast"`
}

// Framer configures frame reconstruction.
type Framer struct {
	FPS       float64 `yaml:"fps"`
	ChunkRows int     `yaml:"chunk_rows"`
	Mode      string  `yaml:"mode"`
	View      string  `yaml:"view"`
	Source    string  `yaml:"source"`
	// Workers bounds the goroutines used for batch ingest; 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// Sink configures where frames are written.
type Sink struct {
	// Compression is sink.None or sink.Zstd.
	Compression string `yaml:"compression"`
	Level       int    `yaml:"level"`
}

// Broadcast configures the websocket frame hub. An empty Addr disables it.
type Broadcast struct {
	Addr     string `yaml:"addr"`
	Path     string `yaml:"path"`
	MaxQueue int    `yaml:"max_queue"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Framer: Framer{
			FPS:       30,
			ChunkRows: 64,
			Mode:      framer.Instantaneous.String(),
			View:      framer.ViewIntensity.String(),
			Source:    framer.U8.String(),
		},
		Sink: Sink{
			Compression: sink.None,
			Level:       1,
		},
		Broadcast: Broadcast{
			Path:     "/frames",
			MaxQueue: 8,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks every field for a usable value.
func (c Config) Validate() error {
	if !(c.Framer.FPS > 0) {
		return fmt.Errorf("framer.fps must be positive, got %v", c.Framer.FPS)
	}
	if c.Framer.ChunkRows <= 0 {
		return fmt.Errorf("framer.chunk_rows must be positive, got %d", c.Framer.ChunkRows)
	}
	if c.Framer.Workers < 0 {
		return fmt.Errorf("framer.workers must not be negative, got %d", c.Framer.Workers)
	}
	if _, err := c.Framer.ParseMode(); err != nil {
		return err
	}
	if _, err := c.Framer.ParseView(); err != nil {
		return err
	}
	if _, err := c.Framer.ParseSource(); err != nil {
		return err
	}
	switch c.Sink.Compression {
	case sink.None, sink.Zstd:
	default:
		return fmt.Errorf("sink.compression: unknown value %q", c.Sink.Compression)
	}
	if c.Sink.Level < 1 || c.Sink.Level > 4 {
		return fmt.Errorf("sink.level must be in [1, 4], got %d", c.Sink.Level)
	}
	if c.Broadcast.Addr != "" && !strings.HasPrefix(c.Broadcast.Path, "/") {
		return fmt.Errorf("broadcast.path must start with /, got %q", c.Broadcast.Path)
	}
	if c.Broadcast.MaxQueue <= 0 {
		return fmt.Errorf("broadcast.max_queue must be positive, got %d", c.Broadcast.MaxQueue)
	}
	return nil
}

// ParseMode returns the framing mode named by Mode.
func (f Framer) ParseMode() (framer.Mode, error) {
	for _, m := range []framer.Mode{framer.Instantaneous, framer.Integration} {
		if strings.EqualFold(f.Mode, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("framer.mode: unknown value %q", f.Mode)
}

// ParseView returns the view mode named by View.
func (f Framer) ParseView() (framer.ViewMode, error) {
	for _, v := range []framer.ViewMode{framer.ViewIntensity, framer.ViewD, framer.ViewDeltaT} {
		if strings.EqualFold(f.View, v.String()) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("framer.view: unknown value %q", f.View)
}

// ParseSource returns the source type named by Source.
func (f Framer) ParseSource() (framer.SourceType, error) {
	for s := framer.U8; s <= framer.F64; s++ {
		if strings.EqualFold(f.Source, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("framer.source: unknown value %q", f.Source)
}

// Apply copies the framing settings onto b.
func (f Framer) Apply(b *framer.Builder) error {
	mode, err := f.ParseMode()
	if err != nil {
		return err
	}
	view, err := f.ParseView()
	if err != nil {
		return err
	}
	b.Mode(mode).ViewMode(view)
	if f.Workers > 0 {
		b.Workers(f.Workers)
	}
	return nil
}

// Command adder2frames reconstructs frames from an ADΔER stream and writes
// them as raw big-endian samples, optionally zstd-compressed and streamed to
// websocket clients.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrjoshuak/go-adder/framer"
	"github.com/mrjoshuak/go-adder/internal/broadcast"
	"github.com/mrjoshuak/go-adder/internal/config"
	"github.com/mrjoshuak/go-adder/internal/sink"
	"github.com/mrjoshuak/go-adder/internal/source"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	input := flag.String("input", "", "Input stream path")
	output := flag.String("output", "", "Output frame file path")
	fps := flag.Float64("fps", 0, "Output frames per second (overrides config)")
	mode := flag.String("mode", "", "Framing mode: instantaneous or integration (overrides config)")
	view := flag.String("view", "", "Frame view: intensity, d or delta_t (overrides config)")
	useZstd := flag.Bool("zstd", false, "Compress the output with zstd")
	serve := flag.String("serve", "", "Address to serve frames over websocket, e.g. :8080")
	flag.Parse()

	if *input == "" || *output == "" {
		log.Fatal("missing -input or -output")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if *fps > 0 {
		cfg.Framer.FPS = *fps
	}
	if *mode != "" {
		cfg.Framer.Mode = *mode
	}
	if *view != "" {
		cfg.Framer.View = *view
	}
	if *useZstd {
		cfg.Sink.Compression = sink.Zstd
	}
	if *serve != "" {
		cfg.Broadcast.Addr = *serve
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := cfg.Framer.ParseSource()
	if err != nil {
		log.Fatal(err)
	}
	switch st {
	case framer.U8:
		err = run[uint8](ctx, cfg, *input, *output)
	case framer.U16:
		err = run[uint16](ctx, cfg, *input, *output)
	case framer.U32:
		err = run[uint32](ctx, cfg, *input, *output)
	case framer.U64:
		err = run[uint64](ctx, cfg, *input, *output)
	case framer.F32:
		err = run[float32](ctx, cfg, *input, *output)
	case framer.F64:
		err = run[float64](ctx, cfg, *input, *output)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func run[T framer.Value](ctx context.Context, cfg config.Config, input, output string) error {
	s, err := source.Open(input)
	if err != nil {
		return err
	}
	defer s.Close()
	h := s.Header()

	st, _ := cfg.Framer.ParseSource()
	b := framer.NewBuilder(h.Plane(), cfg.Framer.ChunkRows).
		TimeParameters(h.TicksPerSecond, h.RefInterval, h.DeltaTMax, cfg.Framer.FPS).
		Source(st, h.SourceCamera).
		CodecVersion(h.CodecVersion)
	if err := cfg.Framer.Apply(b); err != nil {
		return err
	}
	seq, err := framer.Build[T](b)
	if err != nil {
		return err
	}

	out, err := sink.Create(output, cfg.Sink.Compression, cfg.Sink.Level)
	if err != nil {
		return err
	}
	defer out.Close()

	var frames chan []byte
	if cfg.Broadcast.Addr != "" {
		hub := broadcast.NewHub(broadcast.Geometry{
			Width:         int(h.Width),
			Height:        int(h.Height),
			Channels:      int(h.Channels),
			BytesPerValue: seq.FrameBytes() / h.Plane().Volume(),
			FPS:           cfg.Framer.FPS,
		})
		go func() {
			if err := hub.Serve(ctx, cfg.Broadcast.Addr, cfg.Broadcast.Path); err != nil {
				log.Printf("broadcast: %v", err)
			}
		}()
		frames = make(chan []byte, cfg.Broadcast.MaxQueue)
		defer close(frames)
		go hub.Run(ctx, frames)
		log.Printf("serving frames on %s%s", cfg.Broadcast.Addr, cfg.Broadcast.Path)
	}

	start := time.Now()
	var buf bytes.Buffer
	for {
		if ctx.Err() != nil {
			break
		}
		e, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !seq.IngestEvent(e) {
			continue
		}
		for {
			filled, err := seq.IsFrameFilled(0)
			if err != nil {
				return err
			}
			if !filled {
				break
			}
			buf.Reset()
			if err := seq.WriteFrameBytes(&buf); err != nil {
				return err
			}
			if err := out.WriteFrame(buf.Bytes()); err != nil {
				return err
			}
			if frames != nil {
				frame := append([]byte(nil), buf.Bytes()...)
				select {
				case frames <- frame:
				default:
					// Slow subscribers miss frames; the file gets all of them.
				}
			}
		}
	}

	if err := out.Close(); err != nil {
		return err
	}
	log.Printf("wrote %d frames (%d bytes) in %v; %d late pixel writes skipped, %d events rejected",
		out.Frames(), out.Bytes(), time.Since(start).Round(time.Millisecond), seq.SkippedWrites(), seq.RejectedEvents())
	return nil
}

// Command addercompress converts between raw and compressed ADΔER streams.
// The direction follows the container of the input.
package main

import (
	"bufio"
	"errors"
	"flag"
	"io"
	"log"
	"os"

	adder "github.com/mrjoshuak/go-adder"
	"github.com/mrjoshuak/go-adder/compressed"
	"github.com/mrjoshuak/go-adder/internal/source"
	"github.com/mrjoshuak/go-adder/raw"
)

// eventWriter is satisfied by both stream encoders.
type eventWriter interface {
	Count() int64
	Close() error
}

func main() {
	input := flag.String("input", "", "Input stream path")
	output := flag.String("output", "", "Output stream path")
	blockSize := flag.Int("block", compressed.BlockSize, "Block size for compression (16 or 32)")
	flag.Parse()

	if *input == "" || *output == "" {
		log.Fatal("missing -input or -output")
	}
	if *blockSize != compressed.BlockSize && *blockSize != compressed.BlockSizeBig {
		log.Fatalf("unsupported block size %d", *blockSize)
	}

	s, err := source.Open(*input)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer s.Close()

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create: %v", err)
	}
	bw := bufio.NewWriter(f)

	var (
		w     eventWriter
		write func(adder.Event) error
	)
	if s.Format() == source.Raw {
		cw, err := compressed.NewWriter(bw, s.Header(), *blockSize)
		if err != nil {
			log.Fatalf("compressed writer: %v", err)
		}
		w, write = cw, cw.WriteEvent
	} else {
		enc, err := raw.NewEncoder(bw, s.Header())
		if err != nil {
			log.Fatalf("raw encoder: %v", err)
		}
		w, write = enc, enc.EncodeEvent
	}

	for {
		e, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("read %s: %v", *input, err)
		}
		if err := write(e); err != nil {
			log.Fatalf("write event %d: %v", w.Count(), err)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatalf("close stream: %v", err)
	}
	if err := bw.Flush(); err != nil {
		log.Fatalf("flush: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("close %s: %v", *output, err)
	}

	inSize, _ := s.Size()
	st, err := os.Stat(*output)
	if err != nil {
		log.Fatalf("stat: %v", err)
	}
	log.Printf("%s (%s) -> %s: %d events, %d -> %d bytes", *input, s.Format(), *output, w.Count(), inSize, st.Size())
}

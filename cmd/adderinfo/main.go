// Command adderinfo prints the metadata of an ADΔER stream.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/mrjoshuak/go-adder/internal/report"
	"github.com/mrjoshuak/go-adder/internal/source"
)

func main() {
	input := flag.String("input", "", "Path to a raw or compressed ADΔER stream")
	dynamicRange := flag.Bool("dynamic-range", false, "Calculate the dynamic range of the events (reads the whole stream)")
	format := flag.String("format", report.FormatText, "Output format: text, json or cbor")
	flag.Parse()

	if *input == "" {
		log.Fatal("missing -input")
	}

	s, err := source.Open(*input)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer s.Close()

	var info report.Info
	if s.Format() == source.Raw {
		info, err = report.Scan(s.Raw(), *dynamicRange)
	} else {
		info, err = report.ScanCompressed(s.Compressed(), *dynamicRange)
	}
	if err != nil {
		log.Fatalf("scan %s: %v", *input, err)
	}
	if info.FileSize, err = s.Size(); err != nil {
		log.Printf("stat %s: %v", *input, err)
	}

	if err := info.Encode(os.Stdout, *format); err != nil {
		log.Fatalf("write report: %v", err)
	}
}

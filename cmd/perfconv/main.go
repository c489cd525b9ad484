// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command perfconv converts a Linux perf.data recording into a
// processed-profile JSON document, stack-unwinding each sample along the
// way. Frames carry raw addresses; no symbol names are resolved.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/perf-conv/perf-conv/internal/convert"
	"github.com/perf-conv/perf-conv/perffile"
)

func main() {
	flagOutput := flag.String("o", "profile-conv.json", "output `file`")
	flag.Usage = func() {
		os.Stderr.WriteString("usage: perfconv <perf.data>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	input := flag.Arg(0)

	logger := convert.NewLogger()

	f, err := perffile.Open(input)
	if err != nil {
		log.Fatalf("opening %s: %v", input, err)
	}
	defer f.Close()
	if f.Meta.Arch == "" {
		log.Fatalf("%s: recording does not name its architecture", input)
	}

	start := time.Now()
	doc, err := convert.Convert(f, input, logger)
	if err != nil {
		log.Fatalf("converting %s: %v", input, err)
	}

	if err := doc.WriteFile(*flagOutput); err != nil {
		log.Fatalf("writing %s: %v", *flagOutput, err)
	}

	logger.Printf("wrote %s in %v", *flagOutput, time.Since(start).Round(time.Millisecond))
}

// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// dso-dump decodes and displays saved oscilloscope flash dumps.
//
// Usage: dso-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> dso-dump ./testdata/flash.bin
//	=== flash dump "./testdata/flash.bin" ===
//	firmware: "1.07"
//	serial:   "DSO2024-000042"
//	crc16:    0x6c1f
//	range  CH1:gain  CH1:amp CH1:comp  CH2:gain  CH2:amp CH2:comp
//	    0      1000     1020     1040      1010     1030     1050
//	    1      1001     1021     1041      1011     1031     1051
//	[...]
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/dso/calib"
)

func main() {
	log.SetPrefix("dso-dump: ")
	log.SetFlags(0)

	raw := flag.Bool("hex", false, "display the raw dump as hexadecimal")

	flag.Usage = func() {
		fmt.Printf(`dso-dump decodes and displays saved oscilloscope flash dumps.

Usage: dso-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> dso-dump ./testdata/flash.bin
 === flash dump "./testdata/flash.bin" ===
 firmware: "1.07"
 serial:   "DSO2024-000042"
 crc16:    0x6c1f
 range  CH1:gain  CH1:amp CH1:comp  CH2:gain  CH2:amp CH2:comp
     0      1000     1020     1040      1010     1030     1050
     1      1001     1021     1041      1011     1031     1051
 [...]

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input flash dump file")
	}

	for _, fname := range flag.Args() {
		err := process(os.Stdout, fname, *raw)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, raw bool) error {
	p, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("could not read flash dump: %w", err)
	}

	dump, err := calib.Parse(p)
	if err != nil {
		return fmt.Errorf("could not decode flash dump: %w", err)
	}

	fmt.Fprintf(w, "=== flash dump %q ===\n", fname)
	fmt.Fprintf(w, "firmware: %q\n", dump.Firmware)
	fmt.Fprintf(w, "serial:   %q\n", dump.Serial)
	fmt.Fprintf(w, "crc16:    0x%04x\n", dump.CRC)

	fmt.Fprintf(w, "range")
	for ch := 0; ch < calib.NumChannels; ch++ {
		fmt.Fprintf(w, " %9s %8s %8s",
			fmt.Sprintf("CH%d:gain", ch+1),
			fmt.Sprintf("CH%d:amp", ch+1),
			fmt.Sprintf("CH%d:comp", ch+1),
		)
	}
	fmt.Fprintf(w, "\n")

	for rng := 0; rng < calib.NumRanges; rng++ {
		fmt.Fprintf(w, "%5d", rng)
		for ch := 0; ch < calib.NumChannels; ch++ {
			for i, f := range []calib.Field{calib.Gain, calib.Amplitude, calib.Compensation} {
				v, err := dump.Table.Lookup(ch, f, rng)
				if err != nil {
					return fmt.Errorf("could not read %v of CH%d: %w", f, ch+1, err)
				}
				width := 8
				if i == 0 {
					width = 9
				}
				fmt.Fprintf(w, " %*d", width, v)
			}
		}
		fmt.Fprintf(w, "\n")
	}

	if raw {
		fmt.Fprintf(w, "%s", hex.Dump(p))
	}

	return nil
}

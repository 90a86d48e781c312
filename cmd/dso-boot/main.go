// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dso-boot (re)starts one acquisition process per run file.
//
// Usage: dso-boot [OPTIONS] RUN-FILE1 [RUN-FILE2 [...]]
//
// Each process writes its output to DIR/NAME.log, and its resources
// usage to DIR/NAME-pmon.log when monitoring is enabled.
package main // import "github.com/go-lpc/dso/cmd/dso-boot"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var (
	name = flag.String("cmd", "dso-daq", "acquisition command to run")
	dir  = flag.String("dir", os.Getenv("DSOLOGDIR"), "directory for log files")

	doKill = flag.Bool("kill", true, "kill already running acquisition processes")
	doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
	doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")

	stop = make(chan os.Signal, 1)
)

func main() {
	flag.Parse()

	log.SetPrefix("dso-boot: ")
	log.SetFlags(0)

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing run file(s)")
	}

	procs := make([]proc, flag.NArg())
	for i, fname := range flag.Args() {
		procs[i] = newProc(*name, fname)
	}

	if *doKill {
		killall(*name)
	}

	err := run(*doMon, *doFreq, procs, *dir, stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// proc is an acquisition process and the name of its log files.
type proc struct {
	name string
	cmd  *exec.Cmd
}

func newProc(cmd, fname string) proc {
	base := strings.TrimSuffix(filepath.Base(fname), filepath.Ext(fname))
	return proc{
		name: filepath.Base(cmd) + "-" + base,
		cmd:  exec.Command(cmd, fname),
	}
}

func killall(name string) {
	name = filepath.Base(name)
	kill := exec.Command("killall", name)
	kill.Stderr = os.Stderr
	kill.Stdout = os.Stdout
	err := kill.Run()
	if err != nil {
		log.Printf("could not kill %q: %+v", name, err)
	}
}

func run(doMon bool, freq time.Duration, procs []proc, dir string, stop chan os.Signal) error {
	signal.Notify(stop, os.Interrupt, unix.SIGTERM)
	defer signal.Stop(stop)

	if dir == "" {
		dir = "/var/log/dso"
	}

	var (
		grp  errgroup.Group
		kill = make(chan int)
	)
	for i := range procs {
		p := procs[i]
		grp.Go(func() error {
			return start(p, dir, kill, doMon, freq)
		})
	}

	done := make(chan int)
	defer close(done)
	go func() {
		select {
		case <-stop:
			close(kill)
		case <-done:
		}
	}()

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot DAQ: %w", err)
	}
	return nil
}

func start(p proc, dir string, kill chan int, doMon bool, freq time.Duration) error {
	var (
		name = p.name
		cmd  = p.cmd
	)
	out, err := os.Create(filepath.Join(dir, name+".log"))
	if err != nil {
		return fmt.Errorf("could not create output log file for %q: %w", name, err)
	}
	defer out.Close()

	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", name, err)
	}

	if doMon {
		p, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			return fmt.Errorf("could not start monitoring %q (pid=%d): %w", name, cmd.Process.Pid, err)
		}
		f, err := os.Create(filepath.Join(dir, name+"-pmon.log"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file for command %q: %w", name, err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			log.Printf("run pmon %q...", name)
			err := p.Run()
			if err != nil {
				log.Printf("could not start monitoring %q: %+v", name, err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring %q: %+v", name, err)
			}
		}()
	}

	errch := make(chan error, 1)
	go func() {
		errch <- cmd.Wait()
	}()

	select {
	case <-kill:
		err = cmd.Process.Signal(unix.SIGTERM)
		if err != nil {
			return fmt.Errorf("could not stop %q: %w", name, err)
		}
		<-errch
	case err = <-errch:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", name, err)
		}
	}

	return nil
}

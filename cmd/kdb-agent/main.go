// kdb-agent runs a simulated target for exercising the kdb host tools
// without hardware. It boots a small fake firmware that announces init,
// registers a couple of captures and then parks at a breakpoint in a
// loop, serving the debug session over stdio or TCP.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/kpc-debug/kdb/internal/agent"
	"github.com/kpc-debug/kdb/internal/cli"
	"github.com/kpc-debug/kdb/internal/mem"
	"github.com/kpc-debug/kdb/internal/pin"
	"github.com/kpc-debug/kdb/internal/transport"
	"github.com/kpc-debug/kdb/internal/wire"
)

// Addresses of the simulated firmware's variables. These match the
// sample symbols manifest shipped in examples/.
const (
	counterAddr = 0x2000_0000
	flagAddr    = 0x2000_0004
	bufAddr     = 0x2000_0010
)

// stdio serves the session over the process's own pipes. Logging goes
// to stderr so the frame stream stays clean.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func main() {
	var (
		addr    string
		verbose bool
		debug   bool
		version bool
	)
	flag.StringVar(&addr, "addr", "", "serve the session over TCP on this address instead of stdio")
	flag.BoolVar(&verbose, "verbose", false, "enable info logging")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		cli.PrintVersion("kdb-agent", false)
		return
	}
	log := cli.NewLogger(verbose, debug)

	if addr == "" {
		log.Info("serving simulated target on stdio")
		runTarget(stdio{}, log)
		return
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cli.ExitWithError("listen: %v", err)
	}
	fmt.Fprintln(os.Stderr, "kdb-agent listening on", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			cli.ExitWithError("accept: %v", err)
		}
		log.Info("host connected from %s", conn.RemoteAddr())
		runTarget(conn, log)
		conn.Close()
		log.Info("host disconnected")
	}
}

// runTarget plays the part of instrumented firmware until the host goes
// away.
func runTarget(rw io.ReadWriter, log *cli.Logger) {
	m := mem.NewSparse()
	m.Seed(bufAddr, []byte("simulated"))
	s := agent.New(agent.Config{
		Stream: transport.NewIOStream(rw),
		Memory: m,
		Pins:   pin.NewSim(),
	})

	if err := s.Init(1); err != nil {
		log.Error("init: %v", err)
		return
	}
	if _, err := s.Capture(12, counterAddr, 4); err != nil {
		log.Error("capture counter: %v", err)
		return
	}
	if _, err := s.Capture(13, flagAddr, 1); err != nil {
		log.Error("capture flag: %v", err)
		return
	}
	s.Println(20, agent.Text("boot complete"))

	var counter uint32
	var b [4]byte
	for {
		counter++
		wire.PutAddr(b[:], counter)
		if err := m.WriteAt(counterAddr, b[:]); err != nil {
			log.Error("update counter: %v", err)
			return
		}
		s.Print(30, agent.Text("loop "))
		s.Println(30, agent.Uint(uint64(counter)))
		if err := s.Debugger(42); err != nil {
			log.Error("session ended: %v", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

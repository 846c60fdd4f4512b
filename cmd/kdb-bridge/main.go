// kdb-bridge exposes a target attached to this machine to remote kdb
// hosts. The target side is a serial device or a TCP-served agent; the
// host side is a plain TCP listener, a QUIC listener, or both.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kpc-debug/kdb/internal/bridge"
	"github.com/kpc-debug/kdb/internal/cli"
	"github.com/kpc-debug/kdb/internal/serialport"
)

func main() {
	var (
		device     string
		baud       int
		agentAddr  string
		listenTCP  string
		listenQUIC string
		verbose    bool
		debug      bool
		version    bool
	)
	flag.StringVar(&device, "port", "", "serial device the target is attached to")
	flag.IntVar(&baud, "baud", serialport.DefaultBaud, "serial baud rate")
	flag.StringVar(&agentAddr, "agent", "", "TCP address of a kdb-agent to bridge instead of a serial device")
	flag.StringVar(&listenTCP, "listen", "", "accept plain TCP hosts on this address")
	flag.StringVar(&listenQUIC, "listen-quic", "", "accept QUIC hosts on this UDP address")
	flag.BoolVar(&verbose, "verbose", false, "enable info logging")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		cli.PrintVersion("kdb-bridge", false)
		return
	}
	log := cli.NewLogger(verbose, debug)

	if (device == "") == (agentAddr == "") {
		cli.ExitWithError("exactly one of --port or --agent is required")
	}
	if listenTCP == "" && listenQUIC == "" {
		cli.ExitWithError("at least one of --listen or --listen-quic is required")
	}

	var pipe io.ReadWriter
	if device != "" {
		port, err := serialport.Open(device, baud)
		if err != nil {
			cli.ExitWithError("open %s: %v", device, err)
		}
		defer port.Close()
		log.Info("opened %s at %d baud", device, baud)
		pipe = port
	} else {
		conn, err := net.Dial("tcp", agentAddr)
		if err != nil {
			cli.ExitWithError("connect %s: %v", agentAddr, err)
		}
		defer conn.Close()
		log.Info("connected to agent at %s", agentAddr)
		pipe = conn
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	br := bridge.New(pipe, log)
	errs := make(chan error, 2)
	serving := 0

	if listenTCP != "" {
		ln, err := net.Listen("tcp", listenTCP)
		if err != nil {
			cli.ExitWithError("listen %s: %v", listenTCP, err)
		}
		fmt.Fprintln(os.Stderr, "kdb-bridge listening on", ln.Addr().String())
		serving++
		go func() { errs <- br.ServeTCP(ctx, ln) }()
	}
	if listenQUIC != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", listenQUIC)
		if err != nil {
			cli.ExitWithError("resolve %s: %v", listenQUIC, err)
		}
		pc, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			cli.ExitWithError("listen %s: %v", listenQUIC, err)
		}
		tlsConf, err := bridge.GenerateTLSConfig()
		if err != nil {
			cli.ExitWithError("tls setup: %v", err)
		}
		fmt.Fprintln(os.Stderr, "kdb-bridge listening on", pc.LocalAddr().String(), "(quic)")
		serving++
		go func() { errs <- br.ServeQUIC(ctx, pc, tlsConf) }()
	}

	for i := 0; i < serving; i++ {
		if err := <-errs; err != nil {
			cli.ExitWithError("%v", err)
		}
	}
}

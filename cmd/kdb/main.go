// kdb is the host-side debugger for kdb-instrumented firmware. It speaks
// the frame protocol over a serial device, a TCP bridge or a QUIC bridge,
// and resolves symbol names through an optional symbols manifest.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kpc-debug/kdb/internal/bridge"
	"github.com/kpc-debug/kdb/internal/cli"
	"github.com/kpc-debug/kdb/internal/host"
	"github.com/kpc-debug/kdb/internal/host/script"
	"github.com/kpc-debug/kdb/internal/serialport"
	"github.com/kpc-debug/kdb/internal/transport"
)

var commands = []cli.CommandInfo{
	{Name: "read-mem", Description: "read target memory: read-mem <addr|symbol> [size]"},
	{Name: "write-mem", Description: "write target memory: write-mem <addr|symbol> <byte>..."},
	{Name: "read-pin", Description: "read a digital pin: read-pin <pin>"},
	{Name: "write-pin", Description: "write a digital pin: write-pin <pin> <0|1>"},
	{Name: "read-cap", Description: "read a capture slot: read-cap <index|symbol>"},
	{Name: "write-cap", Description: "write a capture slot: write-cap <index|symbol> <byte>..."},
	{Name: "continue", Description: "resume a target parked at a breakpoint"},
	{Name: "monitor", Description: "stream target announcements and prints"},
	{Name: "script", Description: "run a Lua script against the target: script <file.lua>"},
	{Name: "symbols", Description: "list the symbols in the manifest"},
}

type options struct {
	addr    string
	quic    string
	device  string
	baud    int
	symbols string
	require string
	watch   bool
	log     *cli.Logger
}

func main() {
	var (
		opts       options
		configPath string
		verbose    bool
		debug      bool
		version    bool
		jsonOut    bool
	)
	flag.StringVar(&opts.addr, "addr", "", "connect to a TCP bridge or agent at this address")
	flag.StringVar(&opts.quic, "quic", "", "connect to a QUIC bridge at this address")
	flag.StringVar(&opts.device, "port", "", "connect through this serial device")
	flag.IntVar(&opts.baud, "baud", serialport.DefaultBaud, "serial baud rate")
	flag.StringVar(&opts.symbols, "symbols", "", "path to a symbols manifest (JSON)")
	flag.StringVar(&opts.require, "require", "", "semver constraint the manifest firmware version must satisfy")
	flag.BoolVar(&opts.watch, "watch", false, "reload the symbols manifest when it changes (monitor only)")
	flag.StringVar(&configPath, "config", "", "path to a kdb config file")
	flag.BoolVar(&verbose, "verbose", false, "enable info logging")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.BoolVar(&jsonOut, "json", false, "print version as JSON")
	flag.Usage = func() {
		cli.PrintUsage("kdb", "firmware debugger", commands)
	}
	flag.Parse()

	if version {
		cli.PrintVersion("kdb", jsonOut)
		return
	}

	config, err := cli.LoadConfig(configPath)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if opts.addr == "" {
		opts.addr = config.Addr
	}
	if opts.device == "" {
		opts.device = config.Device
	}
	if config.Baud != 0 && opts.baud == serialport.DefaultBaud {
		opts.baud = config.Baud
	}
	if opts.symbols == "" {
		opts.symbols = config.Symbols
	}
	opts.log = cli.NewLogger(verbose || config.Verbose, debug || config.Debug)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	manifest := loadManifest(opts)

	if args[0] == "symbols" {
		listSymbols(manifest)
		return
	}

	conn := connect(opts)
	defer conn.Close()
	c := host.NewClient(transport.NewIOStream(conn))
	c.OnEvent = func(ev host.Event) { printEvent(ev, manifest) }

	if err := runCommand(c, &opts, manifest, args); err != nil {
		cli.ExitWithError("%s: %v", args[0], err)
	}
}

func runCommand(c *host.Client, opts *options, manifest *host.Manifest, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "read-mem":
		if len(args) < 1 {
			return fmt.Errorf("usage: read-mem <addr|symbol> [size]")
		}
		addr, size, err := resolveRegion(manifest, args)
		if err != nil {
			return err
		}
		data, err := c.ReadMemory(addr, size)
		if err != nil {
			return err
		}
		fmt.Printf("%08x: % x\n", addr, data)
		return nil

	case "write-mem":
		if len(args) < 2 {
			return fmt.Errorf("usage: write-mem <addr|symbol> <byte>...")
		}
		addr, err := resolveAddr(manifest, args[0])
		if err != nil {
			return err
		}
		data, err := parseBytes(args[1:])
		if err != nil {
			return err
		}
		return c.WriteMemory(addr, data)

	case "read-pin":
		if len(args) != 1 {
			return fmt.Errorf("usage: read-pin <pin>")
		}
		p, err := parseU8(args[0])
		if err != nil {
			return err
		}
		v, err := c.ReadPin(p)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil

	case "write-pin":
		if len(args) != 2 {
			return fmt.Errorf("usage: write-pin <pin> <0|1>")
		}
		p, err := parseU8(args[0])
		if err != nil {
			return err
		}
		v, err := parseU8(args[1])
		if err != nil {
			return err
		}
		return c.WritePin(p, v)

	case "read-cap":
		if len(args) != 1 {
			return fmt.Errorf("usage: read-cap <index>")
		}
		idx, err := parseU8(args[0])
		if err != nil {
			return err
		}
		data, err := c.ReadCapture(idx)
		if err != nil {
			return err
		}
		fmt.Printf("cap[%d]: % x\n", idx, data)
		return nil

	case "write-cap":
		if len(args) < 2 {
			return fmt.Errorf("usage: write-cap <index> <byte>...")
		}
		idx, err := parseU8(args[0])
		if err != nil {
			return err
		}
		data, err := parseBytes(args[1:])
		if err != nil {
			return err
		}
		return c.WriteCapture(idx, data)

	case "continue":
		return c.Continue()

	case "monitor":
		return monitor(c, opts, manifest)

	case "script":
		if len(args) != 1 {
			return fmt.Errorf("usage: script <file.lua>")
		}
		env := script.New(c)
		defer env.Close()
		return env.Run(args[0])

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// connect opens the byte pipe named by the flags. Exactly one of
// --addr, --quic and --port must be given.
func connect(opts options) io.ReadWriteCloser {
	given := 0
	for _, v := range []string{opts.addr, opts.quic, opts.device} {
		if v != "" {
			given++
		}
	}
	if given != 1 {
		cli.ExitWithError("exactly one of --addr, --quic or --port is required")
	}

	switch {
	case opts.addr != "":
		conn, err := netDial(opts.addr)
		if err != nil {
			cli.ExitWithError("connect %s: %v", opts.addr, err)
		}
		opts.log.Info("connected to %s", opts.addr)
		return conn
	case opts.quic != "":
		ctx, cancel := context.WithTimeout(context.Background(), quicDialTimeout)
		defer cancel()
		conn, err := bridge.DialQUIC(ctx, opts.quic, true)
		if err != nil {
			cli.ExitWithError("connect %s: %v", opts.quic, err)
		}
		opts.log.Info("connected to %s over QUIC", opts.quic)
		return conn
	default:
		port, err := serialport.Open(opts.device, opts.baud)
		if err != nil {
			cli.ExitWithError("open %s: %v", opts.device, err)
		}
		opts.log.Info("opened %s at %d baud", opts.device, opts.baud)
		return port
	}
}

func loadManifest(opts options) *host.Manifest {
	if opts.symbols == "" {
		if opts.require != "" {
			cli.ExitWithError("--require needs --symbols")
		}
		return nil
	}
	m, err := host.LoadManifest(opts.symbols)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if opts.require != "" {
		if err := m.CheckVersion(opts.require); err != nil {
			cli.ExitWithError("%v", err)
		}
	}
	opts.log.Info("loaded %d symbols for %s %s", len(m.Symbols()), m.Firmware, m.Version)
	return m
}

func listSymbols(m *host.Manifest) {
	if m == nil {
		cli.ExitWithError("symbols needs --symbols")
	}
	fmt.Printf("%s %s\n", m.Firmware, m.Version)
	for _, sym := range m.Symbols() {
		fmt.Printf("  %-20s 0x%08x  %d\n", sym.Name, sym.Addr, sym.Size)
	}
}

// resolveAddr turns a symbol name or numeric literal into an address.
func resolveAddr(m *host.Manifest, arg string) (uint32, error) {
	if m != nil {
		if sym, ok := m.Lookup(arg); ok {
			return sym.Addr, nil
		}
	}
	v, err := strconv.ParseUint(arg, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("not a symbol or address: %q", arg)
	}
	return uint32(v), nil
}

// resolveRegion resolves read-mem arguments. A bare symbol implies the
// symbol's declared size; numeric addresses default to 4 bytes.
func resolveRegion(m *host.Manifest, args []string) (uint32, uint8, error) {
	var size uint8 = 4
	if m != nil {
		if sym, ok := m.Lookup(args[0]); ok {
			size = sym.Size
		}
	}
	addr, err := resolveAddr(m, args[0])
	if err != nil {
		return 0, 0, err
	}
	if len(args) > 1 {
		n, err := parseU8(args[1])
		if err != nil {
			return 0, 0, err
		}
		size = n
	}
	return addr, size, nil
}

func parseU8(arg string) (uint8, error) {
	v, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad value %q", arg)
	}
	return uint8(v), nil
}

func parseBytes(args []string) ([]byte, error) {
	data := make([]byte, 0, len(args))
	for _, a := range args {
		b, err := parseU8(a)
		if err != nil {
			return nil, err
		}
		data = append(data, b)
	}
	return data, nil
}

// printEvent renders a target announcement, naming capture addresses
// through the manifest when one is loaded.
func printEvent(ev host.Event, m *host.Manifest) {
	switch ev.Kind {
	case host.EventInit:
		fmt.Printf("init: target waiting at line %d\n", ev.Line)
	case host.EventDebugger:
		fmt.Printf("breakpoint: line %d\n", ev.Line)
	case host.EventCapture:
		name := ""
		if m != nil {
			for _, sym := range m.Symbols() {
				if sym.Addr == ev.Addr {
					name = " (" + sym.Name + ")"
					break
				}
			}
		}
		fmt.Printf("capture %d: line %d addr 0x%08x size %d%s\n", ev.Index, ev.Line, ev.Addr, ev.Size, name)
	case host.EventPrint:
		if ev.Newline {
			fmt.Printf("[%d] %s\n", ev.Line, ev.Text)
		} else {
			fmt.Printf("[%d] %s", ev.Line, ev.Text)
		}
	}
}

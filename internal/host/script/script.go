// Package script exposes a host debug session to Lua, so interactive
// debugging flows can be replayed from a file: poke memory, toggle pins,
// watch captures, release the target.
//
// The interpreter opens only the side-effect-free standard libraries; a
// debug script gets the kdb module and nothing that touches the local
// filesystem or spawns processes.
package script

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/kpc-debug/kdb/internal/host"
)

// Env is one Lua interpreter bound to one client. An LState is not
// goroutine safe; Run and RunString are called from a single goroutine.
type Env struct {
	l      *lua.LState
	client *host.Client
}

// safeLibs is the subset of Lua standard libraries a debug script may use.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// New returns an environment with the kdb module preloaded.
func New(client *host.Client) *Env {
	l := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range safeLibs {
		l.Push(l.NewFunction(lib.open))
		l.Push(lua.LString(lib.name))
		l.Call(1, 0)
	}
	e := &Env{l: l, client: client}
	l.PreloadModule("kdb", e.loader)
	return e
}

// Run executes the script at path.
func (e *Env) Run(path string) error {
	return e.l.DoFile(path)
}

// RunString executes src directly.
func (e *Env) RunString(src string) error {
	return e.l.DoString(src)
}

// Close releases the interpreter.
func (e *Env) Close() {
	e.l.Close()
}

func (e *Env) loader(l *lua.LState) int {
	mod := l.SetFuncs(l.NewTable(), map[string]lua.LGFunction{
		"read_mem":   e.readMem,
		"write_mem":  e.writeMem,
		"read_pin":   e.readPin,
		"write_pin":  e.writePin,
		"read_cap":   e.readCap,
		"write_cap":  e.writeCap,
		"continue":   e.cont,
		"wait_event": e.waitEvent,
		"sleep":      e.sleep,
	})
	l.Push(mod)
	return 1
}

func (e *Env) readMem(l *lua.LState) int {
	addr := uint32(l.CheckInt64(1))
	size := l.CheckInt(2)
	if size < 0 || size > 255 {
		l.ArgError(2, "size out of range")
		return 0
	}
	data, err := e.client.ReadMemory(addr, uint8(size))
	if err != nil {
		l.RaiseError("read_mem: %v", err)
		return 0
	}
	l.Push(lua.LString(data))
	return 1
}

func (e *Env) writeMem(l *lua.LState) int {
	addr := uint32(l.CheckInt64(1))
	data := l.CheckString(2)
	if err := e.client.WriteMemory(addr, []byte(data)); err != nil {
		l.RaiseError("write_mem: %v", err)
	}
	return 0
}

func (e *Env) readPin(l *lua.LState) int {
	p := l.CheckInt(1)
	v, err := e.client.ReadPin(uint8(p))
	if err != nil {
		l.RaiseError("read_pin: %v", err)
		return 0
	}
	l.Push(lua.LNumber(v))
	return 1
}

func (e *Env) writePin(l *lua.LState) int {
	p := l.CheckInt(1)
	v := l.CheckInt(2)
	if err := e.client.WritePin(uint8(p), uint8(v)); err != nil {
		l.RaiseError("write_pin: %v", err)
	}
	return 0
}

func (e *Env) readCap(l *lua.LState) int {
	idx := l.CheckInt(1)
	data, err := e.client.ReadCapture(uint8(idx))
	if err != nil {
		l.RaiseError("read_cap: %v", err)
		return 0
	}
	l.Push(lua.LString(data))
	return 1
}

func (e *Env) writeCap(l *lua.LState) int {
	idx := l.CheckInt(1)
	data := l.CheckString(2)
	if err := e.client.WriteCapture(uint8(idx), []byte(data)); err != nil {
		l.RaiseError("write_cap: %v", err)
	}
	return 0
}

func (e *Env) cont(l *lua.LState) int {
	if err := e.client.Continue(); err != nil {
		l.RaiseError("continue: %v", err)
	}
	return 0
}

// waitEvent blocks for the next target announcement, up to an optional
// poll budget, and returns it as a table (or nil on timeout).
func (e *Env) waitEvent(l *lua.LState) int {
	budget := l.OptInt(1, 0)
	ev, err := e.client.Next(budget)
	if err == host.ErrTimeout {
		l.Push(lua.LNil)
		return 1
	}
	if err != nil {
		l.RaiseError("wait_event: %v", err)
		return 0
	}
	t := l.NewTable()
	t.RawSetString("kind", lua.LString(eventKindName(ev.Kind)))
	t.RawSetString("line", lua.LNumber(ev.Line))
	switch ev.Kind {
	case host.EventCapture:
		t.RawSetString("addr", lua.LNumber(ev.Addr))
		t.RawSetString("size", lua.LNumber(ev.Size))
		t.RawSetString("index", lua.LNumber(ev.Index))
	case host.EventPrint:
		t.RawSetString("text", lua.LString(ev.Text))
		t.RawSetString("newline", lua.LBool(ev.Newline))
	}
	l.Push(t)
	return 1
}

func (e *Env) sleep(l *lua.LState) int {
	ms := l.CheckInt(1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return 0
}

func eventKindName(k host.EventKind) string {
	switch k {
	case host.EventInit:
		return "init"
	case host.EventDebugger:
		return "debugger"
	case host.EventCapture:
		return "capture"
	case host.EventPrint:
		return "print"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

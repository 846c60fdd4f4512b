package host

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"
)

// Symbol maps a firmware variable name to its address and size, as emitted
// by the firmware build.
type Symbol struct {
	Name string
	Addr uint32
	Size uint8
}

// Manifest is the symbols file a firmware build drops next to its image:
// firmware identity plus the addressable variables. Shape:
//
//	{
//	  "firmware": {"name": "blink", "version": "1.2.0"},
//	  "symbols": [
//	    {"name": "counter", "addr": "0x20000040", "size": 4}
//	  ]
//	}
//
// Addresses may be JSON numbers or strings in any base strconv accepts.
type Manifest struct {
	Firmware string
	Version  *semver.Version

	symbols map[string]Symbol
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("host: manifest is not valid JSON")
	}
	m := &Manifest{symbols: make(map[string]Symbol)}
	m.Firmware = gjson.GetBytes(data, "firmware.name").String()

	if v := gjson.GetBytes(data, "firmware.version"); v.Exists() {
		ver, err := semver.NewVersion(v.String())
		if err != nil {
			return nil, fmt.Errorf("host: firmware version %q: %w", v.String(), err)
		}
		m.Version = ver
	}

	var parseErr error
	gjson.GetBytes(data, "symbols").ForEach(func(_, entry gjson.Result) bool {
		name := entry.Get("name").String()
		if name == "" {
			parseErr = fmt.Errorf("host: symbol with empty name")
			return false
		}
		addr, err := parseAddr(entry.Get("addr"))
		if err != nil {
			parseErr = fmt.Errorf("host: symbol %q: %w", name, err)
			return false
		}
		size := entry.Get("size").Uint()
		if size == 0 || size > 255 {
			parseErr = fmt.Errorf("host: symbol %q: size %d out of range", name, size)
			return false
		}
		m.symbols[name] = Symbol{Name: name, Addr: addr, Size: uint8(size)}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return m, nil
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host: read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("host: manifest %s: %w", path, err)
	}
	return m, nil
}

func parseAddr(r gjson.Result) (uint32, error) {
	switch r.Type {
	case gjson.Number:
		v := r.Uint()
		if v > 0xFFFFFFFF {
			return 0, fmt.Errorf("address %d exceeds 32 bits", v)
		}
		return uint32(v), nil
	case gjson.String:
		v, err := strconv.ParseUint(r.String(), 0, 32)
		if err != nil {
			return 0, fmt.Errorf("address %q: %w", r.String(), err)
		}
		return uint32(v), nil
	default:
		return 0, fmt.Errorf("missing address")
	}
}

// Lookup resolves a variable name.
func (m *Manifest) Lookup(name string) (Symbol, bool) {
	s, ok := m.symbols[name]
	return s, ok
}

// Symbols returns all symbols sorted by name.
func (m *Manifest) Symbols() []Symbol {
	out := make([]Symbol, 0, len(m.symbols))
	for _, s := range m.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckVersion verifies the firmware version against a semver constraint
// such as ">= 1.2.0, < 2". A manifest without a version fails any
// constraint.
func (m *Manifest) CheckVersion(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("host: constraint %q: %w", constraint, err)
	}
	if m.Version == nil {
		return fmt.Errorf("host: manifest has no firmware version, constraint %q not satisfiable", constraint)
	}
	if !c.Check(m.Version) {
		return fmt.Errorf("host: firmware %s does not satisfy %q", m.Version, constraint)
	}
	return nil
}

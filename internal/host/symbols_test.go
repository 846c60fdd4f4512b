package host

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `{
  "firmware": {"name": "blink", "version": "1.2.0"},
  "symbols": [
    {"name": "counter", "addr": "0x20000040", "size": 4},
    {"name": "flag", "addr": 536870984, "size": 1},
    {"name": "reading", "addr": "0x20000050", "size": 8}
  ]
}`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	if m.Firmware != "blink" {
		t.Fatalf("Firmware = %q", m.Firmware)
	}
	if m.Version == nil || m.Version.String() != "1.2.0" {
		t.Fatalf("Version = %v", m.Version)
	}

	sym, ok := m.Lookup("counter")
	if !ok {
		t.Fatal("counter not found")
	}
	if sym.Addr != 0x20000040 || sym.Size != 4 {
		t.Fatalf("counter = %+v", sym)
	}

	// Numeric address form.
	sym, ok = m.Lookup("flag")
	if !ok || sym.Addr != 536870984 || sym.Size != 1 {
		t.Fatalf("flag = %+v ok=%v", sym, ok)
	}

	if _, ok := m.Lookup("missing"); ok {
		t.Fatal("missing symbol resolved")
	}
}

func TestSymbolsSorted(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	syms := m.Symbols()
	if len(syms) != 3 {
		t.Fatalf("len = %d", len(syms))
	}
	for i, want := range []string{"counter", "flag", "reading"} {
		if syms[i].Name != want {
			t.Fatalf("syms[%d] = %q, want %q", i, syms[i].Name, want)
		}
	}
}

func TestParseManifestErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{"symbols": [`},
		{"bad version", `{"firmware": {"version": "not-a-version"}}`},
		{"empty name", `{"symbols": [{"name": "", "addr": 1, "size": 1}]}`},
		{"missing addr", `{"symbols": [{"name": "x", "size": 1}]}`},
		{"bad addr string", `{"symbols": [{"name": "x", "addr": "zz", "size": 1}]}`},
		{"zero size", `{"symbols": [{"name": "x", "addr": 1, "size": 0}]}`},
		{"huge size", `{"symbols": [{"name": "x", "addr": 1, "size": 300}]}`},
	}
	for _, tc := range cases {
		if _, err := ParseManifest([]byte(tc.doc)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestCheckVersion(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CheckVersion(">= 1.0.0, < 2"); err != nil {
		t.Fatalf("constraint should pass: %v", err)
	}
	if err := m.CheckVersion(">= 2.0.0"); err == nil {
		t.Fatal("constraint should fail")
	}
	if err := m.CheckVersion("not a constraint"); err == nil {
		t.Fatal("malformed constraint should fail")
	}

	unversioned, err := ParseManifest([]byte(`{"symbols": []}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := unversioned.CheckVersion(">= 0.1.0"); err == nil {
		t.Fatal("versionless manifest should fail any constraint")
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.json")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Firmware != "blink" {
		t.Fatalf("Firmware = %q", m.Firmware)
	}

	if _, err := LoadManifest(filepath.Join(dir, "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package agent

import (
	"strconv"

	"github.com/kpc-debug/kdb/internal/wire"
)

// PRINT payload kinds.
const (
	kindPrint   = 0 // no newline
	kindPrintln = 1
)

// DefaultFloatDigits is the fractional digit count used when a float value
// does not specify one.
const DefaultFloatDigits = 2

type valueKind uint8

const (
	valueText valueKind = iota
	valueInt
	valueUint
	valueFloat
)

// Value is one printable debug value: text, a signed or unsigned integer,
// or a float with a digit count. A closed variant instead of overloading;
// there is exactly one formatting path.
type Value struct {
	kind   valueKind
	text   string
	i      int64
	u      uint64
	f      float64
	digits int
}

// Text wraps a string value.
func Text(s string) Value { return Value{kind: valueText, text: s} }

// Int wraps a signed integer value.
func Int(v int64) Value { return Value{kind: valueInt, i: v} }

// Uint wraps an unsigned integer value.
func Uint(v uint64) Value { return Value{kind: valueUint, u: v} }

// Float wraps a float value printed with the given number of fractional
// digits; digits < 0 selects DefaultFloatDigits.
func Float(v float64, digits int) Value {
	if digits < 0 {
		digits = DefaultFloatDigits
	}
	return Value{kind: valueFloat, f: v, digits: digits}
}

func (v Value) format() string {
	switch v.kind {
	case valueInt:
		return strconv.FormatInt(v.i, 10)
	case valueUint:
		return strconv.FormatUint(v.u, 10)
	case valueFloat:
		return strconv.FormatFloat(v.f, 'f', v.digits, 64)
	default:
		return v.text
	}
}

// Print announces v as debug text output without a trailing newline.
func (s *Session) Print(line uint16, v Value) error {
	return s.emitPrint(line, kindPrint, v.format())
}

// Println announces v as debug text output with a trailing newline.
func (s *Session) Println(line uint16, v Value) error {
	return s.emitPrint(line, kindPrintln, v.format())
}

// emitPrint builds and sends one PRINT frame: 2-byte line, 1-byte kind,
// then at most wire.MaxText bytes of text. Longer text is silently
// truncated, matching the legacy limit.
func (s *Session) emitPrint(line uint16, kind byte, text string) error {
	if len(text) > wire.MaxText {
		text = text[:wire.MaxText]
	}
	buf := s.tr.Scratch()
	wire.PutLine(buf, line)
	buf[2] = kind
	copy(buf[3:], text)
	return s.tr.WriteFrame(wire.OpPrint, 3+len(text))
}

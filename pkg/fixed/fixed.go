// Package fixed implements exact-precision decimal values as scaled
// integers. Every price, quantity and monetary amount in this module is a
// fixed.Value; no component performs floating-point arithmetic on money.
package fixed

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrScaleOverflow is returned when scale alignment or an arithmetic
	// result leaves the int64 range.
	ErrScaleOverflow = errors.New("fixed: scale overflow")
	// ErrInvalidInput is returned when a string cannot be parsed.
	ErrInvalidInput = errors.New("fixed: invalid input")
	// ErrDivByZero is returned when dividing by a zero value.
	ErrDivByZero = errors.New("fixed: division by zero")
)

// MaxScale is the largest scale any Value may carry. 10^18 still fits int64.
const MaxScale = 18

var pow10 = [MaxScale + 1]int64{
	1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000,
	1000000000, 10000000000, 100000000000, 1000000000000, 10000000000000,
	100000000000000, 1000000000000000, 10000000000000000, 100000000000000000,
	1000000000000000000,
}

// Value is a decimal number encoded as Unscaled * 10^-Scale.
type Value struct {
	Unscaled int64 `json:"unscaled"`
	Scale    int32 `json:"scale"`
}

// New builds a Value from an unscaled integer and a scale.
func New(unscaled int64, scale int32) Value {
	return Value{Unscaled: unscaled, Scale: scale}
}

// Zero is the canonical zero value.
func Zero() Value {
	return Value{}
}

// FromFloat64 converts a float to a Value at the given scale, rounding
// half away from zero. Boundary use only; internal math never goes
// through floats.
func FromFloat64(f float64, scale int32) (Value, error) {
	if scale < 0 || scale > MaxScale {
		return Value{}, ErrScaleOverflow
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, ErrInvalidInput
	}
	scaled := f * float64(pow10[scale])
	if scaled >= float64(math.MaxInt64) || scaled <= float64(math.MinInt64) {
		return Value{}, ErrScaleOverflow
	}
	return Value{Unscaled: int64(math.Round(scaled)), Scale: scale}, nil
}

// Float64 returns a lossy float representation for diagnostics and logs.
func (v Value) Float64() float64 {
	return float64(v.Unscaled) / float64(pow10[v.Scale])
}

// IsZero reports whether the value is numerically zero.
func (v Value) IsZero() bool {
	return v.Unscaled == 0
}

// Sign returns -1, 0 or 1.
func (v Value) Sign() int {
	switch {
	case v.Unscaled < 0:
		return -1
	case v.Unscaled > 0:
		return 1
	default:
		return 0
	}
}

// IsPositive reports whether the value is strictly greater than zero.
func (v Value) IsPositive() bool {
	return v.Unscaled > 0
}

// Neg returns the negated value.
func (v Value) Neg() Value {
	return Value{Unscaled: -v.Unscaled, Scale: v.Scale}
}

// Abs returns the absolute value.
func (v Value) Abs() Value {
	if v.Unscaled < 0 {
		return Value{Unscaled: -v.Unscaled, Scale: v.Scale}
	}
	return v
}

// Normalize strips trailing zero digits by reducing the scale.
func (v Value) Normalize() Value {
	if v.Unscaled == 0 {
		return Value{}
	}
	for v.Scale > 0 && v.Unscaled%10 == 0 {
		v.Unscaled /= 10
		v.Scale--
	}
	return v
}

// Rescale returns the value expressed at the target scale. Raising the
// scale multiplies the unscaled integer; lowering it is only legal when
// no precision is lost.
func (v Value) Rescale(scale int32) (Value, error) {
	if scale < 0 || scale > MaxScale {
		return Value{}, ErrScaleOverflow
	}
	switch {
	case scale == v.Scale:
		return v, nil
	case scale > v.Scale:
		mult := pow10[scale-v.Scale]
		if overflowsMul(v.Unscaled, mult) {
			return Value{}, ErrScaleOverflow
		}
		return Value{Unscaled: v.Unscaled * mult, Scale: scale}, nil
	default:
		div := pow10[v.Scale-scale]
		if v.Unscaled%div != 0 {
			return Value{}, ErrScaleOverflow
		}
		return Value{Unscaled: v.Unscaled / div, Scale: scale}, nil
	}
}

// Align expresses both operands at max(a.Scale, b.Scale). Every binary
// operation goes through here first; alignment is never implicit.
func Align(a, b Value) (Value, Value, error) {
	if a.Scale == b.Scale {
		return a, b, nil
	}
	if a.Scale < b.Scale {
		aa, err := a.Rescale(b.Scale)
		return aa, b, err
	}
	bb, err := b.Rescale(a.Scale)
	return a, bb, err
}

// Add returns a+b at the aligned scale.
func Add(a, b Value) (Value, error) {
	aa, bb, err := Align(a, b)
	if err != nil {
		return Value{}, err
	}
	sum := aa.Unscaled + bb.Unscaled
	if (aa.Unscaled > 0 && bb.Unscaled > 0 && sum < 0) ||
		(aa.Unscaled < 0 && bb.Unscaled < 0 && sum > 0) {
		return Value{}, ErrScaleOverflow
	}
	return Value{Unscaled: sum, Scale: aa.Scale}, nil
}

// Sub returns a-b at the aligned scale.
func Sub(a, b Value) (Value, error) {
	if b.Unscaled == math.MinInt64 {
		return Value{}, ErrScaleOverflow
	}
	return Add(a, b.Neg())
}

// Cmp compares a and b after alignment: -1 when a<b, 0 when equal, 1 when a>b.
func Cmp(a, b Value) (int, error) {
	aa, bb, err := Align(a, b)
	if err != nil {
		return 0, err
	}
	switch {
	case aa.Unscaled < bb.Unscaled:
		return -1, nil
	case aa.Unscaled > bb.Unscaled:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports numeric equality after alignment. Values that cannot be
// aligned are never equal.
func Equal(a, b Value) bool {
	c, err := Cmp(a, b)
	return err == nil && c == 0
}

// Mul returns a*b at scale a.Scale+b.Scale.
func Mul(a, b Value) (Value, error) {
	scale := a.Scale + b.Scale
	if scale > MaxScale {
		return Value{}, ErrScaleOverflow
	}
	if a.Unscaled != 0 && b.Unscaled != 0 && overflowsMul(a.Unscaled, b.Unscaled) {
		return Value{}, ErrScaleOverflow
	}
	return Value{Unscaled: a.Unscaled * b.Unscaled, Scale: scale}, nil
}

// Div returns a/b at the requested scale, rounding half away from zero.
func Div(a, b Value, scale int32) (Value, error) {
	if b.Unscaled == 0 {
		return Value{}, ErrDivByZero
	}
	if scale < 0 || scale > MaxScale {
		return Value{}, ErrScaleOverflow
	}
	num := a.Unscaled
	den := b.Unscaled
	exp := scale + b.Scale - a.Scale
	switch {
	case exp > 0:
		if int(exp) > MaxScale || overflowsMul(num, pow10[exp]) {
			return Value{}, ErrScaleOverflow
		}
		num *= pow10[exp]
	case exp < 0:
		if int(-exp) > MaxScale || overflowsMul(den, pow10[-exp]) {
			return Value{}, ErrScaleOverflow
		}
		den *= pow10[-exp]
	}
	return Value{Unscaled: roundDiv(num, den), Scale: scale}, nil
}

// Parse reads a decimal string such as "-12.3400"; the scale is taken
// from the digits after the point.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, ErrInvalidInput
	}
	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}
	if len(fracPart) > MaxScale {
		return Value{}, ErrScaleOverflow
	}
	// Exactly one leading sign is allowed; everything after it must be a
	// decimal digit so inputs like "--5" or "+-5" cannot slip through.
	neg := false
	switch {
	case strings.HasPrefix(intPart, "-"):
		neg = true
		intPart = intPart[1:]
	case strings.HasPrefix(intPart, "+"):
		intPart = intPart[1:]
	}
	digits := intPart + fracPart
	if digits == "" {
		return Value{}, ErrInvalidInput
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Value{}, ErrInvalidInput
		}
	}
	unscaled, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Value{}, ErrInvalidInput
	}
	if neg {
		unscaled = -unscaled
	}
	return Value{Unscaled: unscaled, Scale: int32(len(fracPart))}, nil
}

// MustParse is Parse for constants in tests and wiring code.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the value without going through floats.
func (v Value) String() string {
	return string(v.Append(nil))
}

// Append renders the value into buf.
func (v Value) Append(buf []byte) []byte {
	if v.Scale <= 0 {
		return strconv.AppendInt(buf, v.Unscaled, 10)
	}

	neg := v.Unscaled < 0
	u := uint64(v.Unscaled)
	if neg {
		u = uint64(^v.Unscaled) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)
	scale := int(v.Scale)

	if neg {
		buf = append(buf, '-')
	}
	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		return append(buf, digits...)
	}
	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	return append(buf, digits[idx:]...)
}

func overflowsMul(a, b int64) bool {
	if a == 0 || b == 0 {
		return false
	}
	if a == math.MinInt64 || b == math.MinInt64 {
		return true
	}
	aa, bb := a, b
	if aa < 0 {
		aa = -aa
	}
	if bb < 0 {
		bb = -bb
	}
	return aa > math.MaxInt64/bb
}

// roundDiv divides rounding half away from zero.
func roundDiv(num, den int64) int64 {
	quo := num / den
	rem := num % den
	if rem == 0 {
		return quo
	}
	r2 := rem
	if r2 < 0 {
		r2 = -r2
	}
	d2 := den
	if d2 < 0 {
		d2 = -d2
	}
	if 2*r2 >= d2 {
		if (num < 0) != (den < 0) {
			return quo - 1
		}
		return quo + 1
	}
	return quo
}

// internal/canfix/value.go
package canfix

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"canfix-service/internal/dictionary"
	"canfix-service/pkg/can"
)

// dateType is the one irregular compound: a scaled UINT followed by two
// raw USHORTs (year, month, day).
const dateType = "UINT,USHORT[2]"

type primitive struct {
	size   int
	signed bool
	scaled bool
}

var primitives = map[string]primitive{
	"SHORT":  {size: 1, signed: true, scaled: true},
	"USHORT": {size: 1, scaled: true},
	"INT":    {size: 2, signed: true, scaled: true},
	"UINT":   {size: 2, scaled: true},
	"DINT":   {size: 4, signed: true, scaled: true},
	"UDINT":  {size: 4, scaled: true},
	"FLOAT":  {size: 4, signed: true, scaled: true},
	"CHAR":   {size: 1},
	"BYTE":   {size: 1},
	"WORD":   {size: 2},
}

var arrayType = regexp.MustCompile(`^([A-Z]+)\[(\d+)\]$`)

// layout is a parsed parameter type tag.
type layout struct {
	base  string
	count int
	array bool
	date  bool
}

func parseLayout(tag string) (layout, error) {
	t := strings.ToUpper(strings.ReplaceAll(tag, " ", ""))
	if t == dateType {
		return layout{base: "UINT", count: 1, date: true}, nil
	}
	if m := arrayType.FindStringSubmatch(t); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			return layout{}, fmt.Errorf("%w: bad array size in type %q", can.ErrValidation, tag)
		}
		if _, ok := primitives[m[1]]; !ok {
			return layout{}, fmt.Errorf("%w: unknown type %q", can.ErrValidation, tag)
		}
		return layout{base: m[1], count: n, array: true}, nil
	}
	if _, ok := primitives[t]; !ok {
		return layout{}, fmt.Errorf("%w: unknown type %q", can.ErrValidation, tag)
	}
	return layout{base: t, count: 1}, nil
}

// size is the number of value bytes the layout occupies.
func (l layout) size() int {
	if l.date {
		return 4
	}
	return primitives[l.base].size * l.count
}

// DecodeValue turns the value bytes of a parameter frame into a Go value.
func DecodeValue(def *dictionary.ParameterDef, data []byte) (any, error) {
	l, err := parseLayout(def.Type)
	if err != nil {
		return nil, err
	}

	switch l.base {
	case "CHAR":
		n := l.count
		if !l.array || n > len(data) {
			n = len(data)
		}
		return string(data[:n]), nil
	case "BYTE", "WORD":
		if len(data) < l.size() {
			return nil, shortValue(def, l, data)
		}
		return unpackBits(data[:l.size()]), nil
	}

	if len(data) < l.size() {
		return nil, shortValue(def, l, data)
	}

	if l.date {
		raw := int64(binary.LittleEndian.Uint16(data[0:2]))
		return []float64{scale(raw, def.Multiplier), float64(data[2]), float64(data[3])}, nil
	}

	size := primitives[l.base].size
	values := make([]float64, l.count)
	for i := range values {
		values[i] = decodeNumber(l.base, data[i*size:(i+1)*size], def.Multiplier)
	}
	if l.array {
		return values, nil
	}
	return values[0], nil
}

// EncodeValue is the inverse of DecodeValue.
func EncodeValue(def *dictionary.ParameterDef, value any) ([]byte, error) {
	l, err := parseLayout(def.Type)
	if err != nil {
		return nil, err
	}

	switch l.base {
	case "BYTE", "WORD":
		return nil, fmt.Errorf("%w: encoding %s values", can.ErrUnsupported, l.base)
	case "CHAR":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string, got %T", can.ErrValidation, def.Name, value)
		}
		if len(s) > can.MaxDataLen-3 || (l.array && len(s) > l.count) {
			return nil, fmt.Errorf("%w: %q too long for %s", can.ErrValidation, s, def.Type)
		}
		return []byte(s), nil
	}

	if l.date {
		vals, err := floats(value, 3)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Name, err)
		}
		buf := make([]byte, 4)
		if err := encodeNumber("UINT", vals[0], def.Multiplier, buf[0:2]); err != nil {
			return nil, err
		}
		if err := encodeNumber("USHORT", vals[1], 1, buf[2:3]); err != nil {
			return nil, err
		}
		if err := encodeNumber("USHORT", vals[2], 1, buf[3:4]); err != nil {
			return nil, err
		}
		return buf, nil
	}

	var vals []float64
	if l.array {
		vals, err = floats(value, l.count)
	} else {
		var v float64
		v, err = toFloat(value)
		vals = []float64{v}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.Name, err)
	}

	size := primitives[l.base].size
	buf := make([]byte, size*l.count)
	for i, v := range vals {
		if err := encodeNumber(l.base, v, def.Multiplier, buf[i*size:(i+1)*size]); err != nil {
			return nil, fmt.Errorf("%s: %w", def.Name, err)
		}
	}
	return buf, nil
}

func shortValue(def *dictionary.ParameterDef, l layout, data []byte) error {
	return fmt.Errorf("%w: %s needs %d value bytes, got %d", can.ErrValidation, def.Name, l.size(), len(data))
}

func decodeNumber(base string, b []byte, mult float64) float64 {
	switch base {
	case "SHORT":
		return scale(int64(int8(b[0])), mult)
	case "USHORT":
		return scale(int64(b[0]), mult)
	case "INT":
		return scale(int64(int16(binary.LittleEndian.Uint16(b))), mult)
	case "UINT":
		return scale(int64(binary.LittleEndian.Uint16(b)), mult)
	case "DINT":
		return scale(int64(int32(binary.LittleEndian.Uint32(b))), mult)
	case "UDINT":
		return scale(int64(binary.LittleEndian.Uint32(b)), mult)
	case "FLOAT":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) * mult
	}
	return 0
}

// integer bounds per primitive
var bounds = map[string][2]int64{
	"SHORT":  {math.MinInt8, math.MaxInt8},
	"USHORT": {0, math.MaxUint8},
	"INT":    {math.MinInt16, math.MaxInt16},
	"UINT":   {0, math.MaxUint16},
	"DINT":   {math.MinInt32, math.MaxInt32},
	"UDINT":  {0, math.MaxUint32},
}

func encodeNumber(base string, v, mult float64, out []byte) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: value %v is not finite", can.ErrValidation, v)
	}

	if base == "FLOAT" {
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(v/mult)))
		return nil
	}

	raw := unscale(v, mult)
	lim := bounds[base]
	if raw.LessThan(decimal.NewFromInt(lim[0])) || raw.GreaterThan(decimal.NewFromInt(lim[1])) {
		return fmt.Errorf("%w: value %v out of range for %s", can.ErrValidation, v, base)
	}

	n := raw.IntPart()
	switch len(out) {
	case 1:
		out[0] = byte(n)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(n))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(n))
	}
	return nil
}

// scale multiplies a raw integer by the multiplier in decimal arithmetic,
// so 1234 * 0.1 yields exactly the float64 nearest 123.4.
func scale(raw int64, mult float64) float64 {
	if mult == 1 {
		return float64(raw)
	}
	v, _ := decimal.NewFromInt(raw).Mul(decimal.NewFromFloat(mult)).Float64()
	return v
}

// unscale divides by the multiplier and rounds to the nearest integer.
func unscale(v, mult float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	if mult != 1 {
		d = d.Div(decimal.NewFromFloat(mult))
	}
	return d.Round(0)
}

func unpackBits(b []byte) []bool {
	bits := make([]bool, 0, len(b)*8)
	for _, octet := range b {
		for i := 0; i < 8; i++ {
			bits = append(bits, octet&(1<<i) != 0)
		}
	}
	return bits
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case decimal.Decimal:
		f, _ := n.Float64()
		return f, nil
	}
	return 0, fmt.Errorf("%w: expected a number, got %T", can.ErrValidation, v)
}

func floats(v any, n int) ([]float64, error) {
	var out []float64
	switch vals := v.(type) {
	case []float64:
		out = vals
	case []int:
		for _, x := range vals {
			out = append(out, float64(x))
		}
	case []any:
		for _, x := range vals {
			f, err := toFloat(x)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	default:
		return nil, fmt.Errorf("%w: expected %d numbers, got %T", can.ErrValidation, n, v)
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: expected %d numbers, got %d", can.ErrValidation, n, len(out))
	}
	return out, nil
}

package iedserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Quality is the 13 bit IEC 61850 quality bit string.
type Quality uint16

const (
	QUALITY_VALIDITY_GOOD         Quality = 0
	QUALITY_VALIDITY_INVALID      Quality = 2
	QUALITY_VALIDITY_RESERVED     Quality = 1
	QUALITY_VALIDITY_QUESTIONABLE Quality = 3

	QUALITY_DETAIL_OVERFLOW      Quality = 4
	QUALITY_DETAIL_OUT_OF_RANGE  Quality = 8
	QUALITY_DETAIL_BAD_REFERENCE Quality = 16
	QUALITY_DETAIL_OSCILLATORY   Quality = 32
	QUALITY_DETAIL_FAILURE       Quality = 64
	QUALITY_DETAIL_OLD_DATA      Quality = 128
	QUALITY_DETAIL_INCONSISTENT  Quality = 256
	QUALITY_DETAIL_INACCURATE    Quality = 512
	QUALITY_SOURCE_SUBSTITUTED   Quality = 1024
	QUALITY_TEST                 Quality = 2048
	QUALITY_OPERATOR_BLOCKED     Quality = 4096
	QUALITY_DERIVED              Quality = 8192
)

// Validity returns the two validity bits.
func (q Quality) Validity() Quality {
	return q & 0x3
}

// Timestamp is an IEC 61850 UTC timestamp with its time quality flags.
type Timestamp struct {
	Ms                   uint64
	LeapSecondKnown      bool
	ClockFailure         bool
	ClockNotSynchronized bool
	SubsecondPrecision   int
}

// NewTimestamp builds a Timestamp from a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Ms: uint64(t.UnixMilli())}
}

// Time converts the timestamp to time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t.Ms)).UTC()
}

func (t Timestamp) IsZero() bool {
	return t.Ms == 0
}

func NewBooleanValue(v bool) MmsValue         { return MmsValue{Type: Boolean, Value: v} }
func NewInt32Value(v int32) MmsValue          { return MmsValue{Type: Int32, Value: v} }
func NewInt64Value(v int64) MmsValue          { return MmsValue{Type: Int64, Value: v} }
func NewUint32Value(v uint32) MmsValue        { return MmsValue{Type: Uint32, Value: v} }
func NewFloatValue(v float32) MmsValue        { return MmsValue{Type: Float, Value: v} }
func NewVisibleStringValue(v string) MmsValue { return MmsValue{Type: VisibleString, Value: v} }
func NewUTCTimeValue(ms uint64) MmsValue      { return MmsValue{Type: UTCTime, Value: ms} }
func NewBitStringValue(bits uint32) MmsValue  { return MmsValue{Type: BitString, Value: bits} }
func NewQualityValue(q Quality) MmsValue      { return MmsValue{Type: BitString, Value: uint32(q)} }
func NewOctetStringValue(b []byte) MmsValue   { return MmsValue{Type: OctetString, Value: append([]byte(nil), b...)} }
func NewStructureValue(elems ...*MmsValue) MmsValue {
	return MmsValue{Type: Structure, Value: elems}
}

// NewTimestampValue carries the full Timestamp, flags included.
func NewTimestampValue(ts Timestamp) MmsValue {
	return MmsValue{Type: UTCTime, Value: ts}
}

// Bool coerces the value to bool.
func (v MmsValue) Bool() (bool, error) {
	return cast.ToBoolE(v.Value)
}

// Int64 coerces integer, unsigned and bit string values.
func (v MmsValue) Int64() (int64, error) {
	return cast.ToInt64E(v.Value)
}

// Float64 coerces numeric values.
func (v MmsValue) Float64() (float64, error) {
	return cast.ToFloat64E(v.Value)
}

// Str coerces the value to a string.
func (v MmsValue) Str() (string, error) {
	return cast.ToStringE(v.Value)
}

// UTCTimeMs returns the milliseconds of a UTCTime value.
func (v MmsValue) UTCTimeMs() (uint64, error) {
	if ts, ok := v.Value.(Timestamp); ok {
		return ts.Ms, nil
	}
	return cast.ToUint64E(v.Value)
}

// Clone returns a deep copy. Structures and arrays are copied element-wise.
func (v MmsValue) Clone() MmsValue {
	switch val := v.Value.(type) {
	case []byte:
		return MmsValue{Type: v.Type, Value: append([]byte(nil), val...)}
	case []*MmsValue:
		children := make([]*MmsValue, len(val))
		for i, c := range val {
			if c != nil {
				cc := c.Clone()
				children[i] = &cc
			}
		}
		return MmsValue{Type: v.Type, Value: children}
	default:
		return v
	}
}

// String implements fmt.Stringer for MmsValue.
// It prints a human-readable representation for all MMS data types.
// For composite types (Array/Structure) it formats recursively.
func (v MmsValue) String() string {
	var b strings.Builder
	writeMmsValue(&b, v, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeMmsValue(b *strings.Builder, v MmsValue, level int) {
	switch v.Type {
	case Array, Structure:
		// Expect Value to be []*MmsValue
		if v.Type == Structure {
			b.WriteString("{")
		} else {
			b.WriteString("[")
		}
		if children, ok := v.Value.([]*MmsValue); ok {
			for i, child := range children {
				if i > 0 {
					b.WriteString(", ")
				}
				if child == nil {
					b.WriteString("<nil>")
					continue
				}
				writeMmsValue(b, *child, level+1)
			}
		}
		if v.Type == Structure {
			b.WriteString("}")
		} else {
			b.WriteString("]")
		}
	case Boolean, String, VisibleString, Float, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32:
		fmt.Fprintf(b, "%s(%s)", mmsTypeName(v.Type), scalarToString(v))
	case Integer, Unsigned:
		// Generic integer families
		fmt.Fprintf(b, "%s(%v)", mmsTypeName(v.Type), v.Value)
	case BitString:
		fmt.Fprintf(b, "BitString(0b%b)", v.Value)
	case OctetString:
		if bs, ok := v.Value.([]byte); ok {
			fmt.Fprintf(b, "OctetString(% X)", bs)
		} else {
			fmt.Fprintf(b, "OctetString(%v)", v.Value)
		}
	case GeneralizedTime:
		fmt.Fprintf(b, "GeneralizedTime(%v)", v.Value)
	case BinaryTime:
		fmt.Fprintf(b, "BinaryTime(utcMs=%v)", v.Value)
	case Bcd:
		fmt.Fprintf(b, "BCD(%v)", v.Value)
	case ObjId:
		fmt.Fprintf(b, "ObjId(%v)", v.Value)
	case UTCTime:
		if ts, ok := v.Value.(Timestamp); ok {
			fmt.Fprintf(b, "UTCTime(ms=%d)", ts.Ms)
		} else {
			fmt.Fprintf(b, "UTCTime(ms=%v)", v.Value)
		}
	case DataAccessError:
		fmt.Fprintf(b, "DataAccessError(%v)", v.Value)
	default:
		fmt.Fprintf(b, "UnknownType(%d:%v)", v.Type, v.Value)
	}
}

func scalarToString(v MmsValue) string {
	switch v.Type {
	case Boolean:
		if bv, err := cast.ToBoolE(v.Value); err == nil {
			return fmt.Sprintf("%t", bv)
		}
	case Float:
		if f, err := cast.ToFloat64E(v.Value); err == nil {
			return fmt.Sprintf("%g", f)
		}
	case Int8, Int16, Int32, Int64:
		if i, err := cast.ToInt64E(v.Value); err == nil {
			return fmt.Sprintf("%d", i)
		}
	case Uint8, Uint16, Uint32:
		if u, err := cast.ToUint64E(v.Value); err == nil {
			return fmt.Sprintf("%d", u)
		}
	}
	return fmt.Sprintf("%v", v.Value)
}

func mmsTypeName(t MmsType) string {
	switch t {
	case Array:
		return "Array"
	case Structure:
		return "Structure"
	case Boolean:
		return "Boolean"
	case BitString:
		return "BitString"
	case Integer:
		return "Integer"
	case Unsigned:
		return "Unsigned"
	case Float:
		return "Float"
	case OctetString:
		return "OctetString"
	case VisibleString:
		return "VisibleString"
	case GeneralizedTime:
		return "GeneralizedTime"
	case BinaryTime:
		return "BinaryTime"
	case Bcd:
		return "Bcd"
	case ObjId:
		return "ObjId"
	case String:
		return "String"
	case UTCTime:
		return "UTCTime"
	case DataAccessError:
		return "DataAccessError"
	case Int8:
		return "Int8"
	case Int16:
		return "Int16"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Uint8:
		return "Uint8"
	case Uint16:
		return "Uint16"
	case Uint32:
		return "Uint32"
	default:
		return fmt.Sprintf("MmsType(%d)", int(t))
	}
}

func (mt MmsType) String() string {
	return mmsTypeName(mt)
}

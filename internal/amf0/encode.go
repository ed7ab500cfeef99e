package amf0

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encode writes values in order as a sequence of AMF0 tagged values.
func Encode(w io.Writer, values ...interface{}) error {
	for _, v := range values {
		if err := EncodeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

// EncodeValue writes a single Go value as its AMF0 wire representation.
// Supported types: float64, int, int64, uint32, bool, string, nil, Undefined,
// Object, EcmaArray, StrictArray, Date.
func EncodeValue(w io.Writer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		return writeByte(w, MarkerNull)
	case Undefined:
		return writeByte(w, MarkerUndefined)
	case float64:
		return encodeNumber(w, val)
	case int:
		return encodeNumber(w, float64(val))
	case int64:
		return encodeNumber(w, float64(val))
	case uint32:
		return encodeNumber(w, float64(val))
	case bool:
		return encodeBoolean(w, val)
	case string:
		return encodeString(w, val)
	case Object:
		return encodeObject(w, val)
	case EcmaArray:
		return encodeECMAArray(w, val)
	case StrictArray:
		return encodeStrictArray(w, val)
	case Date:
		return encodeDate(w, val)
	default:
		return fmt.Errorf("amf0: cannot encode value of type %T", v)
	}
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func encodeNumber(w io.Writer, f float64) error {
	var buf [9]byte
	buf[0] = MarkerNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(f))
	_, err := w.Write(buf[:])
	return err
}

func encodeBoolean(w io.Writer, b bool) error {
	var buf [2]byte
	buf[0] = MarkerBoolean
	if b {
		buf[1] = 1
	}
	_, err := w.Write(buf[:])
	return err
}

// encodeString writes the String marker plus a length-prefixed body for
// strings that fit in a uint16 length, and the LongString marker otherwise.
func encodeString(w io.Writer, s string) error {
	if len(s) > maxStringLen {
		return writeLongString(w, s)
	}
	if err := writeByte(w, MarkerString); err != nil {
		return err
	}
	return writeRawString(w, s)
}

func writeLongString(w io.Writer, s string) error {
	if len(s) > maxLongLen {
		return ErrStringTooLong
	}
	if err := writeByte(w, MarkerLongString); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// writeRawString writes a UTF8-1 (u16-length-prefixed) string body with no
// marker byte, used both for top-level short strings and object keys.
func writeRawString(w io.Writer, s string) error {
	if len(s) > maxStringLen {
		return ErrStringTooLong
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func encodeProperties(w io.Writer, props []Property) error {
	for _, p := range props {
		if err := writeRawString(w, p.Key); err != nil {
			return err
		}
		if err := EncodeValue(w, p.Value); err != nil {
			return err
		}
	}
	// terminator: empty key + object-end marker
	if err := writeRawString(w, ""); err != nil {
		return err
	}
	return writeByte(w, MarkerObjectEnd)
}

func encodeObject(w io.Writer, o Object) error {
	if err := writeByte(w, MarkerObject); err != nil {
		return err
	}
	return encodeProperties(w, o.Properties)
}

func encodeECMAArray(w io.Writer, a EcmaArray) error {
	if err := writeByte(w, MarkerECMAArray); err != nil {
		return err
	}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(a.Properties)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	return encodeProperties(w, a.Properties)
}

func encodeStrictArray(w io.Writer, a StrictArray) error {
	if err := writeByte(w, MarkerStrictArray); err != nil {
		return err
	}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(a.Items)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, item := range a.Items {
		if err := EncodeValue(w, item); err != nil {
			return err
		}
	}
	return nil
}

func encodeDate(w io.Writer, d Date) error {
	if err := writeByte(w, MarkerDate); err != nil {
		return err
	}
	var buf [10]byte
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(d.Millis))
	binary.BigEndian.PutUint16(buf[8:10], uint16(d.TZOffsetMinutes))
	_, err := w.Write(buf[:])
	return err
}

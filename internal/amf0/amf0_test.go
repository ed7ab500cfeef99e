package amf0

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
	}{
		{"number", float64(3.5)},
		{"boolean true", true},
		{"boolean false", false},
		{"string", "publish"},
		{"empty string", ""},
		{"null", nil},
		{"undefined", Undefined{}},
		{
			"object",
			Object{Properties: []Property{
				{Key: "app", Value: "live"},
				{Key: "flashVer", Value: "FMLE/3.0"},
				{Key: "objectEncoding", Value: float64(0)},
			}},
		},
		{
			"ecma array",
			EcmaArray{Properties: []Property{
				{Key: "width", Value: float64(1920)},
				{Key: "height", Value: float64(1080)},
			}},
		},
		{
			"strict array",
			StrictArray{Items: []interface{}{float64(1), "two", true}},
		},
		{
			"date",
			Date{Millis: 1700000000000, TZOffsetMinutes: 0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := EncodeValue(&buf, tc.in); err != nil {
				t.Fatalf("EncodeValue: %v", err)
			}
			got, err := DecodeValue(&buf)
			if err != nil {
				t.Fatalf("DecodeValue: %v", err)
			}
			assertDeepEqual(t, tc.in, got)
		})
	}
}

func assertDeepEqual(t *testing.T, want, got interface{}) {
	t.Helper()
	switch w := want.(type) {
	case Object:
		g, ok := got.(Object)
		if !ok || len(g.Properties) != len(w.Properties) {
			t.Fatalf("want %#v, got %#v", want, got)
		}
		for i, p := range w.Properties {
			if g.Properties[i].Key != p.Key || g.Properties[i].Value != p.Value {
				t.Fatalf("property %d: want %#v, got %#v", i, p, g.Properties[i])
			}
		}
	case EcmaArray:
		g, ok := got.(EcmaArray)
		if !ok || len(g.Properties) != len(w.Properties) {
			t.Fatalf("want %#v, got %#v", want, got)
		}
		for i, p := range w.Properties {
			if g.Properties[i].Key != p.Key || g.Properties[i].Value != p.Value {
				t.Fatalf("property %d: want %#v, got %#v", i, p, g.Properties[i])
			}
		}
	case StrictArray:
		g, ok := got.(StrictArray)
		if !ok || len(g.Items) != len(w.Items) {
			t.Fatalf("want %#v, got %#v", want, got)
		}
		for i := range w.Items {
			if g.Items[i] != w.Items[i] {
				t.Fatalf("item %d: want %#v, got %#v", i, w.Items[i], g.Items[i])
			}
		}
	default:
		if want != got {
			t.Fatalf("want %#v, got %#v", want, got)
		}
	}
}

func TestEncodeLongString(t *testing.T) {
	long := bytes.Repeat([]byte{'a'}, maxStringLen+10)
	var buf bytes.Buffer
	if err := EncodeValue(&buf, string(long)); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	if buf.Bytes()[0] != MarkerLongString {
		t.Fatalf("expected LongString marker, got 0x%02x", buf.Bytes()[0])
	}
	got, err := DecodeValue(&buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got.(string) != string(long) {
		t.Fatal("long string round trip mismatch")
	}
}

func TestDecodeOrderedObjectPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	keys := []string{"z", "a", "m", "b"}
	props := make([]Property, len(keys))
	for i, k := range keys {
		props[i] = Property{Key: k, Value: float64(i)}
	}
	if err := EncodeValue(&buf, Object{Properties: props}); err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	got, err := DecodeValue(&buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	obj := got.(Object)
	for i, p := range obj.Properties {
		if p.Key != keys[i] {
			t.Fatalf("property order not preserved: index %d want %q got %q", i, keys[i], p.Key)
		}
	}
}

func TestDecodeInvalidMarker(t *testing.T) {
	_, err := DecodeValue(bytes.NewReader([]byte{0xFF}))
	if err == nil {
		t.Fatal("expected error for invalid marker")
	}
}

func TestDecodeValueLimit(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < maxValues+1; i++ {
		if err := EncodeValue(&buf, float64(i)); err != nil {
			t.Fatalf("EncodeValue: %v", err)
		}
	}
	_, err := Decode(&buf)
	if err != ErrValueLimit {
		t.Fatalf("expected ErrValueLimit, got %v", err)
	}
}

func TestObjectGet(t *testing.T) {
	obj := Object{Properties: []Property{
		{Key: "app", Value: "live"},
		{Key: "tcUrl", Value: "rtmp://localhost/live"},
	}}
	v, ok := obj.Get("tcUrl")
	if !ok || v != "rtmp://localhost/live" {
		t.Fatalf("Get(tcUrl) = %v, %v", v, ok)
	}
	if _, ok := obj.Get("missing"); ok {
		t.Fatal("expected missing key to return ok=false")
	}
}

func TestDecodeTruncatedInput(t *testing.T) {
	_, err := DecodeValue(bytes.NewReader([]byte{MarkerNumber, 0x01, 0x02}))
	if err == nil {
		t.Fatal("expected error decoding truncated number")
	}
}

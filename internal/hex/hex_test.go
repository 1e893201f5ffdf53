package hex

import "testing"

func TestParseUint64(t *testing.T) {
	cases := map[string]uint64{
		"0x":         0,
		"0x0":        0,
		"0x00ff":     255,
		"0X1a":       26,
		"1a":         26,
		"0xffffffff": 4294967295,
	}
	for in, want := range cases {
		got, err := ParseUint64(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %d want %d", in, got, want)
		}
	}
	if _, err := ParseUint64("0xzz"); err == nil {
		t.Fatal("expected error for invalid digits")
	}
}

func TestEncodeDecode(t *testing.T) {
	if got := EncodeUint64(1000); got != "0x3e8" {
		t.Fatalf("EncodeUint64 = %s", got)
	}
	b, err := Decode("0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Encode(b) != "0x0abc" {
		t.Fatalf("odd-length decode mismatch: %s", Encode(b))
	}
}

package protocol

import (
	"bytes"
	"testing"
)

func TestDecodeString(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"ascii", []byte("OK"), "OK"},
		{"empty", nil, ""},
		{"high bytes map to same code point", []byte{0x41, 0xE9, 0xFF}, "Aéÿ"},
		{"nul byte kept", []byte{0x00, 0x31}, "\x001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeString(tt.raw); got != tt.want {
				t.Errorf("DecodeString(%x) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEncodeStringOneBytePerChar(t *testing.T) {
	got := EncodeString("0A1B")
	want := []byte{'0', 'A', '1', 'B'}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeString(\"0A1B\") = %x, want %x", got, want)
	}
}

func TestEncodeStringKeepsLowByte(t *testing.T) {
	got := EncodeString("éŁ")
	want := []byte{0xE9, 0x41}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeString = %x, want %x", got, want)
	}
}

func TestEncodeDecodeLatin1(t *testing.T) {
	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i)
	}
	if got := EncodeString(DecodeString(raw)); !bytes.Equal(got, raw) {
		t.Errorf("latin-1 bytes did not survive decode/encode")
	}
}

func TestDecodeHex(t *testing.T) {
	got, err := DecodeHex("0A1B")
	if err != nil {
		t.Fatalf("DecodeHex() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x0A, 0x1B}) {
		t.Errorf("DecodeHex(\"0A1B\") = %x, want 0a1b", got)
	}
}

func TestDecodeHexInvalid(t *testing.T) {
	for _, s := range []string{"ABC", "ZZ", "0x0A"} {
		if _, err := DecodeHex(s); err == nil {
			t.Errorf("DecodeHex(%q) should fail", s)
		}
	}
}

func TestUUIDPrefix(t *testing.T) {
	tests := []struct {
		id     string
		want   uint32
		wantOK bool
	}{
		{"0000FFE0-0000-1000-8000-00805F9B34FB", 0xFFE0, true},
		{"0000ffe1-0000-1000-8000-00805f9b34fb", 0xFFE1, true},
		{"6856e119-2c7b-455a-bf42-cf7ddd2c5907", 0x6856e119, true},
		{"FFE0", 0xFFE0, true},
		{"0xFFE1", 0xFFE1, true},
		{"", 0, false},
		{"not-a-uuid", 0, false},
		{"123456789", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := UUIDPrefix(tt.id)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("UUIDPrefix(%q) = (0x%X, %v), want (0x%X, %v)", tt.id, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

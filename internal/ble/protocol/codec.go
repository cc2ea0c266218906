// Package protocol converts between the text and byte forms of payloads
// exchanged with the peripheral, and extracts numeric UUID prefixes.
package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
)

// DecodeString maps every byte to the character with the same code point.
// No multi-byte decoding is attempted.
func DecodeString(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	// ISO-8859-1 covers all 256 byte values, so decoding cannot fail.
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}

// EncodeString stores one byte per character, keeping the low 8 bits of
// the code point.
func EncodeString(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// DecodeHex parses s as consecutive two-digit hexadecimal octets, so
// "0A1B" becomes [0x0A, 0x1B].
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode hex %q: %w", s, err)
	}
	return b, nil
}

// UUIDPrefix returns the numeric value of the first dash-separated group of
// a UUID, e.g. 0xFFE0 for "0000ffe0-0000-1000-8000-00805f9b34fb". Short
// 16- and 32-bit forms ("FFE0", "0x0000FFE0") are accepted as well.
func UUIDPrefix(id string) (uint32, bool) {
	if u, err := uuid.Parse(id); err == nil {
		return uint32(u[0])<<24 | uint32(u[1])<<16 | uint32(u[2])<<8 | uint32(u[3]), true
	}

	head, _, _ := strings.Cut(id, "-")
	head = strings.TrimPrefix(strings.TrimPrefix(head, "0x"), "0X")
	if head == "" || len(head) > 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(head, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

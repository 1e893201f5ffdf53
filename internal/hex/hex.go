// Package hex provides utilities for the "0x"-prefixed hexadecimal strings
// used by JSON-RPC and block-explorer APIs.
package hex

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Encode returns the hexadecimal encoding of src with "0x" prefix.
func Encode(src []byte) string {
	return "0x" + hex.EncodeToString(src)
}

// Decode decodes a hex string (with or without "0x" prefix) into bytes.
// Odd-length input is left-padded with a zero nibble.
func Decode(s string) ([]byte, error) {
	s = trimPrefix(s)
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// MustDecode is like Decode but panics on error.
func MustDecode(s string) []byte {
	b, err := Decode(s)
	if err != nil {
		panic(fmt.Sprintf("hex: invalid hex string %q: %v", s, err))
	}
	return b
}

// EncodeUint64 encodes a uint64 as a "0x"-prefixed quantity.
func EncodeUint64(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

// ParseUint64 parses a hex quantity. Explorer APIs render zero as "0x", which
// is accepted; leading zeros are tolerated.
func ParseUint64(s string) (uint64, error) {
	s = trimPrefix(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("hex: parse quantity %q: %w", s, err)
	}
	return n, nil
}

func trimPrefix(s string) string {
	s = strings.TrimPrefix(s, "0x")
	return strings.TrimPrefix(s, "0X")
}

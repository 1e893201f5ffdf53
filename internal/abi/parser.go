// Package abi provides internal utilities for parsing Solidity event
// signatures and contract ABIs.
package abi

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/hedeqiang/tally/event"
)

// Keccak256 hashes data with legacy Keccak-256.
func Keccak256(data []byte) event.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out event.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// EventSignatureHash computes topic0 for a canonical event signature.
func EventSignatureHash(sig string) event.Hash {
	return Keccak256([]byte(sig))
}

// Selector returns the 4-byte selector of a canonical function signature,
// e.g. "startTime()".
func Selector(sig string) [4]byte {
	h := Keccak256([]byte(sig))
	var out [4]byte
	copy(out[:], h[:4])
	return out
}

// ParsedEvent represents a parsed Solidity event signature.
type ParsedEvent struct {
	Name   string
	Params []ParsedParam
}

// ParsedParam represents a single parameter in an event signature.
type ParsedParam struct {
	Type    string
	Name    string
	Indexed bool
}

// Canonical returns the canonical signature string (e.g. "TokensPurchased(address,uint256,uint256)").
func (p *ParsedEvent) Canonical() string {
	types := make([]string, len(p.Params))
	for i, param := range p.Params {
		types[i] = param.Type
	}
	return fmt.Sprintf("%s(%s)", p.Name, strings.Join(types, ","))
}

// Topic0 returns the signature hash of the canonical form.
func (p *ParsedEvent) Topic0() event.Hash {
	return EventSignatureHash(p.Canonical())
}

// ParseEventSignature parses a Solidity event signature string.
// Supported formats:
//   - "TokensPurchased(address,uint256,uint256)"
//   - "TokensPurchased(address indexed buyer, uint256 amount, uint256 tokens)"
//
// In the bare form nothing is marked indexed.
func ParseEventSignature(sig string) (*ParsedEvent, error) {
	sig = strings.TrimSpace(sig)
	sig = strings.TrimPrefix(sig, "event ")

	parenOpen := strings.IndexByte(sig, '(')
	parenClose := strings.LastIndexByte(sig, ')')
	if parenOpen < 0 || parenClose < 0 || parenClose <= parenOpen {
		return nil, fmt.Errorf("abi: malformed event signature: %q", sig)
	}

	name := strings.TrimSpace(sig[:parenOpen])
	if name == "" {
		return nil, fmt.Errorf("abi: empty event name in signature: %q", sig)
	}

	paramsStr := strings.TrimSpace(sig[parenOpen+1 : parenClose])
	if paramsStr == "" {
		return &ParsedEvent{Name: name}, nil
	}

	parts := splitParams(paramsStr)
	params := make([]ParsedParam, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		p, err := parseParam(part)
		if err != nil {
			return nil, fmt.Errorf("abi: %w in signature %q", err, sig)
		}
		params = append(params, p)
	}

	return &ParsedEvent{Name: name, Params: params}, nil
}

func parseParam(s string) (ParsedParam, error) {
	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return ParsedParam{}, fmt.Errorf("empty parameter")
	}

	p := ParsedParam{Type: normalizeType(tokens[0])}
	for _, tok := range tokens[1:] {
		if tok == "indexed" {
			p.Indexed = true
		} else {
			p.Name = tok
		}
	}
	return p, nil
}

// normalizeType expands the uint/int aliases so the canonical form hashes correctly.
func normalizeType(t string) string {
	switch {
	case t == "uint" || strings.HasPrefix(t, "uint["):
		return "uint256" + t[len("uint"):]
	case t == "int" || strings.HasPrefix(t, "int["):
		return "int256" + t[len("int"):]
	}
	return t
}

// splitParams splits a parameter list string, respecting nested parentheses (e.g., tuples).
func splitParams(s string) []string {
	var parts []string
	depth := 0
	start := 0

	for i, ch := range s {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

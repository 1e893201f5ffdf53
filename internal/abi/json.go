package abi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONABIEntry represents a single entry in an Ethereum JSON ABI array.
type JSONABIEntry struct {
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	Inputs          []JSONABIInput `json:"inputs"`
	Outputs         []JSONABIInput `json:"outputs"`
	StateMutability string         `json:"stateMutability"`
	Anonymous       bool           `json:"anonymous"`
}

// JSONABIInput represents a single input parameter in a JSON ABI entry.
type JSONABIInput struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Indexed    bool           `json:"indexed"`
	Components []JSONABIInput `json:"components,omitempty"`
}

// Contract is the parsed view of a contract ABI.
type Contract struct {
	Events    []*ParsedEvent
	Functions map[string]string // name -> canonical signature
}

// HasFunction reports whether the ABI declares a function with the given name.
func (c *Contract) HasFunction(name string) bool {
	_, ok := c.Functions[name]
	return ok
}

// ParseContract parses either a bare JSON ABI array or a build artifact
// object carrying an "abi" field (hardhat, truffle and foundry layouts).
func ParseContract(data []byte) (*Contract, error) {
	entries, err := parseEntries(data)
	if err != nil {
		return nil, err
	}

	c := &Contract{Functions: make(map[string]string)}
	for _, entry := range entries {
		switch entry.Type {
		case "event":
			parsed, err := jsonEntryToEvent(entry)
			if err != nil {
				return nil, err
			}
			c.Events = append(c.Events, parsed)
		case "function", "":
			if entry.Name == "" {
				continue
			}
			c.Functions[entry.Name] = functionSignature(entry)
		}
	}
	return c, nil
}

// ParseJSONABI parses a full JSON ABI and returns only the event definitions.
func ParseJSONABI(data []byte) ([]*ParsedEvent, error) {
	c, err := ParseContract(data)
	if err != nil {
		return nil, err
	}
	return c.Events, nil
}

func parseEntries(data []byte) ([]JSONABIEntry, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return nil, fmt.Errorf("abi: parse artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return nil, fmt.Errorf("abi: artifact has no \"abi\" field")
		}
		data = artifact.ABI
	}

	var entries []JSONABIEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("abi: parse JSON ABI: %w", err)
	}
	return entries, nil
}

func jsonEntryToEvent(entry JSONABIEntry) (*ParsedEvent, error) {
	if entry.Name == "" {
		return nil, fmt.Errorf("abi: event entry has no name")
	}

	params := make([]ParsedParam, len(entry.Inputs))
	for i, input := range entry.Inputs {
		params[i] = ParsedParam{
			Type:    resolveType(input),
			Name:    input.Name,
			Indexed: input.Indexed,
		}
	}

	return &ParsedEvent{Name: entry.Name, Params: params}, nil
}

func functionSignature(entry JSONABIEntry) string {
	types := make([]string, len(entry.Inputs))
	for i, input := range entry.Inputs {
		types[i] = resolveType(input)
	}
	return entry.Name + "(" + strings.Join(types, ",") + ")"
}

// resolveType converts a JSON ABI input to its canonical Solidity type string,
// expanding tuples to "(type1,type2,...)".
func resolveType(input JSONABIInput) string {
	if len(input.Components) == 0 {
		return input.Type
	}

	suffix := ""
	base := input.Type
	if idx := strings.Index(base, "["); idx >= 0 {
		suffix = base[idx:]
	}

	componentTypes := make([]string, len(input.Components))
	for i, comp := range input.Components {
		componentTypes[i] = resolveType(comp)
	}

	return "(" + strings.Join(componentTypes, ",") + ")" + suffix
}

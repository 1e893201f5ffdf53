// Package contract reads presale contract state.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/event"
	abiutil "github.com/hedeqiang/tally/internal/abi"
)

// ErrUnsupported is returned for reads the contract is not known to offer.
var ErrUnsupported = errors.New("contract: method not supported")

const startTimeSig = "startTime()"

// Capabilities lists the optional presale methods the contract offers.
// It is decided once, before any call is made.
type Capabilities struct {
	StartTime bool
}

// CapabilitiesFromABI inspects a JSON ABI or build artifact.
func CapabilitiesFromABI(data []byte) (Capabilities, error) {
	c, err := abiutil.ParseContract(data)
	if err != nil {
		return Capabilities{}, fmt.Errorf("contract: %w", err)
	}
	return Capabilities{
		StartTime: c.HasFunction("startTime"),
	}, nil
}

// LoadABI reads an ABI file and inspects it. The raw ABI is returned for
// event decoding.
func LoadABI(path string) ([]byte, Capabilities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Capabilities{}, fmt.Errorf("contract: read ABI: %w", err)
	}
	caps, err := CapabilitiesFromABI(data)
	if err != nil {
		return nil, Capabilities{}, err
	}
	return data, caps, nil
}

// Presale reads a presale contract through a Caller.
type Presale struct {
	address event.Address
	caller  chain.Caller
	caps    Capabilities
}

// NewPresale binds a presale contract.
func NewPresale(address event.Address, caller chain.Caller, caps Capabilities) *Presale {
	return &Presale{address: address, caller: caller, caps: caps}
}

// Address returns the contract address.
func (p *Presale) Address() event.Address {
	return p.address
}

// Capabilities returns what the contract is known to offer.
func (p *Presale) Capabilities() Capabilities {
	return p.caps
}

// StartTime returns the sale start as a unix timestamp.
func (p *Presale) StartTime(ctx context.Context) (uint64, error) {
	if !p.caps.StartTime || p.caller == nil {
		return 0, ErrUnsupported
	}

	sel := abiutil.Selector(startTimeSig)
	out, err := p.caller.Call(ctx, p.address, sel[:])
	if err != nil {
		return 0, fmt.Errorf("contract: startTime: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("contract: startTime: short result (%d bytes)", len(out))
	}

	v := new(big.Int).SetBytes(out[:32])
	if !v.IsUint64() {
		return 0, fmt.Errorf("contract: startTime: value %s out of range", v)
	}
	return v.Uint64(), nil
}

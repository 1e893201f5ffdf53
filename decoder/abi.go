package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/hedeqiang/tally/event"
	abiutil "github.com/hedeqiang/tally/internal/abi"
)

// ABIDecoder decodes event logs using registered ABI event definitions.
type ABIDecoder struct {
	schema *Schema
}

var _ PurchaseDecoder = (*ABIDecoder)(nil)

// NewABIDecoder creates a new ABI-based event decoder.
func NewABIDecoder() *ABIDecoder {
	return &ABIDecoder{
		schema: NewSchema(),
	}
}

// RegisterSignature parses a Solidity event signature, e.g.
// "TokensPurchased(address indexed buyer, uint256 amount, uint256 tokens)",
// registers it and returns its topic0.
func (d *ABIDecoder) RegisterSignature(eventSignature string) (event.Hash, error) {
	parsed, err := abiutil.ParseEventSignature(eventSignature)
	if err != nil {
		return event.Hash{}, fmt.Errorf("decoder: %w", err)
	}
	return d.registerParsed(parsed), nil
}

// RegisterJSON registers all event definitions from a JSON ABI or a build
// artifact carrying one, and returns them in ABI order. Non-event entries
// are ignored.
func (d *ABIDecoder) RegisterJSON(jsonABI []byte) ([]*EventDef, error) {
	events, err := abiutil.ParseJSONABI(jsonABI)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	defs := make([]*EventDef, 0, len(events))
	for _, parsed := range events {
		def := newEventDef(parsed)
		d.schema.Add(def)
		defs = append(defs, def)
	}
	return defs, nil
}

// PurchaseEvent picks the purchase event among defs: the one named name
// if it has the purchase shape, else the first that does.
func PurchaseEvent(defs []*EventDef, name string) (*EventDef, bool) {
	var first *EventDef
	for _, def := range defs {
		if !def.IsPurchase() {
			continue
		}
		if def.Name == name {
			return def, true
		}
		if first == nil {
			first = def
		}
	}
	return first, first != nil
}

// Lookup returns the definition registered for topic0.
func (d *ABIDecoder) Lookup(topic0 event.Hash) (*EventDef, bool) {
	return d.schema.Lookup(topic0)
}

func (d *ABIDecoder) registerParsed(parsed *abiutil.ParsedEvent) event.Hash {
	def := newEventDef(parsed)
	d.schema.Add(def)
	return def.Topic0
}

// Decode attempts to decode a log using registered event definitions.
func (d *ABIDecoder) Decode(log event.Log) (*DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, decodeError(log, "log has no topics")
	}

	def, ok := d.schema.Lookup(log.Topics[0])
	if !ok {
		return nil, decodeError(log, "unknown event signature %s", log.Topics[0].Hex())
	}

	inputs := def.layout(len(log.Topics) - 1)

	decoded := &DecodedEvent{
		Name:      def.Name,
		Signature: def.Signature,
		Args:      make([]Arg, 0, len(inputs)),
		Raw:       log,
	}

	topicIdx, offset := 1, 0
	for i, input := range inputs {
		name := input.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}

		var val interface{}
		if input.Indexed {
			if topicIdx >= len(log.Topics) {
				return nil, decodeError(log, "missing topic for indexed param %s", name)
			}
			val = decodeWord(input.Type, log.Topics[topicIdx][:])
			topicIdx++
		} else {
			if offset+wordSize > len(log.Data) {
				return nil, decodeError(log, "payload too short for param %s (%d bytes)", name, len(log.Data))
			}
			val = decodeWord(input.Type, log.Data[offset:offset+wordSize])
			offset += wordSize
		}

		decoded.Args = append(decoded.Args, Arg{
			Name:    name,
			Type:    input.Type,
			Indexed: input.Indexed,
			Value:   val,
		})
	}

	return decoded, nil
}

// DecodePurchase implements PurchaseDecoder. The first address parameter is
// the buyer; the first two unsigned integers are the native and token amounts.
func (d *ABIDecoder) DecodePurchase(log event.Log) (event.Purchase, error) {
	if len(log.Topics) == 0 {
		return event.Purchase{}, decodeError(log, "log has no topics")
	}
	def, ok := d.schema.Lookup(log.Topics[0])
	if ok && !def.IsPurchase() {
		return event.Purchase{}, decodeError(log, "%s is not a purchase event", def.Signature)
	}

	decoded, err := d.Decode(log)
	if err != nil {
		return event.Purchase{}, err
	}

	slots := def.purchase
	buyer, _ := decoded.Args[slots.buyer].Value.(event.Address)
	native, _ := decoded.Args[slots.native].Value.(*big.Int)
	tokens, _ := decoded.Args[slots.tokens].Value.(*big.Int)
	if native == nil || tokens == nil {
		return event.Purchase{}, decodeError(log, "%s: amounts are not integers", def.Signature)
	}

	return event.Purchase{
		Buyer:        buyer,
		NativeAmount: native,
		TokenAmount:  tokens,
		TxHash:       log.TxHash,
		BlockNumber:  log.BlockNumber,
		LogIndex:     log.LogIndex,
		Timestamp:    log.Timestamp,
		Source:       log.Source,
	}, nil
}

// decodeWord decodes a single static parameter from a 32-byte ABI word.
// Dynamic types are returned as the raw word (a topic hash or an offset).
func decodeWord(typ string, word []byte) interface{} {
	switch {
	case typ == "address":
		var addr event.Address
		copy(addr[:], word[12:32])
		return addr
	case typ == "bool":
		return word[31] != 0
	case strings.HasPrefix(typ, "uint") && !strings.Contains(typ, "["):
		return new(big.Int).SetBytes(word)
	case strings.HasPrefix(typ, "int") && !strings.Contains(typ, "["):
		v := new(big.Int).SetBytes(word)
		if word[0]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		return v
	default:
		var h event.Hash
		copy(h[:], word)
		return h
	}
}

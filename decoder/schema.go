package decoder

import (
	"strings"
	"sync"

	"github.com/hedeqiang/tally/event"
	abiutil "github.com/hedeqiang/tally/internal/abi"
)

// Schema holds the events a decoder recognizes, keyed by topic0.
type Schema struct {
	mu   sync.RWMutex
	defs map[event.Hash]*EventDef
}

// EventDef is one registered event.
type EventDef struct {
	Name string

	// Signature is the canonical form, e.g. "TokensPurchased(address,uint256,uint256)".
	Signature string
	Topic0    event.Hash
	Inputs    []ParamDef

	// declaredIndexed is false when the definition came from a bare
	// signature that does not say which params are topics.
	declaredIndexed bool

	purchase purchaseSlots
}

// ParamDef describes a single event parameter.
type ParamDef struct {
	Name    string
	Type    string
	Indexed bool
}

// purchaseSlots locates the buyer and the two amounts among the inputs.
type purchaseSlots struct {
	buyer, native, tokens int
	ok                    bool
}

func newEventDef(parsed *abiutil.ParsedEvent) *EventDef {
	def := &EventDef{
		Name:      parsed.Name,
		Signature: parsed.Canonical(),
		Topic0:    parsed.Topic0(),
		Inputs:    make([]ParamDef, len(parsed.Params)),
	}

	slots := purchaseSlots{buyer: -1}
	var amounts []int
	for i, p := range parsed.Params {
		def.Inputs[i] = ParamDef{Name: p.Name, Type: p.Type, Indexed: p.Indexed}
		def.declaredIndexed = def.declaredIndexed || p.Indexed

		switch {
		case p.Type == "address" && slots.buyer < 0:
			slots.buyer = i
		case strings.HasPrefix(p.Type, "uint") && !strings.Contains(p.Type, "["):
			amounts = append(amounts, i)
		}
	}
	if slots.buyer >= 0 && len(amounts) >= 2 {
		slots.native, slots.tokens, slots.ok = amounts[0], amounts[1], true
	}
	def.purchase = slots
	return def
}

// IsPurchase reports whether the event carries a buyer and two amounts.
func (d *EventDef) IsPurchase() bool {
	return d.purchase.ok
}

// layout resolves which inputs are topics for a log carrying n topics
// after topic0. Bare signatures take the leading params as the topics.
func (d *EventDef) layout(n int) []ParamDef {
	if d.declaredIndexed {
		return d.Inputs
	}
	out := make([]ParamDef, len(d.Inputs))
	copy(out, d.Inputs)
	for i := range out {
		out[i].Indexed = i < n
	}
	return out
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{defs: make(map[event.Hash]*EventDef)}
}

// Add registers def, replacing any event with the same topic0.
func (s *Schema) Add(def *EventDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.Topic0] = def
}

// Lookup returns the event registered for topic0.
func (s *Schema) Lookup(topic0 event.Hash) (*EventDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[topic0]
	return def, ok
}

// Package decoder turns raw purchase logs into event.Purchase values.
package decoder

import (
	"fmt"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/event"
)

// PurchaseDecoder decodes one log into a purchase. Failures are *chain.Error
// of KindDecode; callers skip the log and keep going.
type PurchaseDecoder interface {
	DecodePurchase(log event.Log) (event.Purchase, error)
}

// Arg is one decoded event parameter.
type Arg struct {
	Name    string
	Type    string
	Indexed bool
	Value   interface{}
}

// DecodedEvent contains the decoded representation of an event log.
type DecodedEvent struct {
	// Name is the event name (e.g. "TokensPurchased").
	Name string

	// Signature is the canonical event signature.
	Signature string

	// Args holds the decoded parameters in declaration order.
	Args []Arg

	// Raw is the original log.
	Raw event.Log
}

func decodeError(log event.Log, format string, args ...interface{}) error {
	source := log.Source
	if source == "" {
		source = "decoder"
	}
	op := fmt.Sprintf("decode log %s#%d", log.TxHash.Hex(), log.LogIndex)
	return chain.NewError(chain.KindDecode, source, op, fmt.Errorf(format, args...))
}

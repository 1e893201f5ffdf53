package decoder

import (
	"math/big"

	"github.com/hedeqiang/tally/event"
)

// wordSize is the ABI word length in bytes.
const wordSize = 32

// Words decodes purchase logs by position: the buyer is the lower 20 bytes
// of topic[1], the payload holds the native amount and the token amount as
// two consecutive 32-byte words.
type Words struct {
	topic0 event.Hash
}

var _ PurchaseDecoder = (*Words)(nil)

// NewWords creates a positional decoder. A non-zero topic0 is checked
// against every log.
func NewWords(topic0 event.Hash) *Words {
	return &Words{topic0: topic0}
}

// DecodePurchase implements PurchaseDecoder.
func (w *Words) DecodePurchase(log event.Log) (event.Purchase, error) {
	if len(log.Topics) < 2 {
		return event.Purchase{}, decodeError(log, "expected at least 2 topics, got %d", len(log.Topics))
	}
	if w.topic0 != (event.Hash{}) && log.Topics[0] != w.topic0 {
		return event.Purchase{}, decodeError(log, "unexpected topic0 %s", log.Topics[0].Hex())
	}
	if len(log.Data) < 2*wordSize {
		return event.Purchase{}, decodeError(log, "expected at least %d payload bytes, got %d", 2*wordSize, len(log.Data))
	}

	return event.Purchase{
		Buyer:        event.AddressFromTopic(log.Topics[1]),
		NativeAmount: new(big.Int).SetBytes(log.Data[:wordSize]),
		TokenAmount:  new(big.Int).SetBytes(log.Data[wordSize : 2*wordSize]),
		TxHash:       log.TxHash,
		BlockNumber:  log.BlockNumber,
		LogIndex:     log.LogIndex,
		Timestamp:    log.Timestamp,
		Source:       log.Source,
	}, nil
}

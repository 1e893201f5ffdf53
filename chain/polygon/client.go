// Package polygon provides the Polygon PoS network preset. Polygon is
// EVM-compatible and reuses the Ethereum client with a different chain ID.
package polygon

import (
	"github.com/hedeqiang/tally/chain/ethereum"
)

const (
	// ID is the source name used in logs and errors.
	ID = "polygon"

	// ChainID is the EIP-155 chain id.
	ChainID = 137

	// ExplorerAPI is the default Etherscan-style API endpoint.
	ExplorerAPI = "https://api.polygonscan.com/api"
)

// New creates a Polygon client.
func New(rpcURL string) *ethereum.Client {
	return ethereum.NewWithID(ID, rpcURL)
}

func init() {
	ethereum.RegisterNetwork(ethereum.Network{ID: ID, ChainID: ChainID, ExplorerAPI: ExplorerAPI})
}

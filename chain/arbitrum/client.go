// Package arbitrum provides the Arbitrum One network preset.
package arbitrum

import (
	"github.com/hedeqiang/tally/chain/ethereum"
)

const (
	ID = "arbitrum"

	// ChainID is the EIP-155 chain id.
	ChainID = 42161

	// ExplorerAPI is the default Etherscan-style API endpoint.
	ExplorerAPI = "https://api.arbiscan.io/api"
)

// New creates a Arbitrum One client.
func New(rpcURL string) *ethereum.Client {
	return ethereum.NewWithID(ID, rpcURL)
}

func init() {
	ethereum.RegisterNetwork(ethereum.Network{ID: ID, ChainID: ChainID, ExplorerAPI: ExplorerAPI})
}

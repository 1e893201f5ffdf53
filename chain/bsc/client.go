// Package bsc provides the BNB Smart Chain network preset.
package bsc

import (
	"github.com/hedeqiang/tally/chain/ethereum"
)

const (
	// ID is the source name used in logs and errors.
	ID = "bsc"

	// ChainID is the EIP-155 chain id.
	ChainID = 56

	// ExplorerAPI is the default Etherscan-style API endpoint.
	ExplorerAPI = "https://api.bscscan.com/api"
)

// New creates a BNB Smart Chain client.
func New(rpcURL string) *ethereum.Client {
	return ethereum.NewWithID(ID, rpcURL)
}

func init() {
	ethereum.RegisterNetwork(ethereum.Network{ID: ID, ChainID: ChainID, ExplorerAPI: ExplorerAPI})
}

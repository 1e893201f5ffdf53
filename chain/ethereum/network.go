package ethereum

import "fmt"

// Network describes an EVM network preset.
type Network struct {
	ID          string
	ChainID     uint64
	ExplorerAPI string
}

// Mainnet is the Ethereum mainnet preset.
var Mainnet = Network{ID: "ethereum", ChainID: 1, ExplorerAPI: "https://api.etherscan.io/api"}

var networks = map[string]Network{}

// RegisterNetwork makes a preset available to LookupNetwork.
func RegisterNetwork(n Network) {
	networks[n.ID] = n
}

// LookupNetwork returns the preset registered under id.
func LookupNetwork(id string) (Network, error) {
	n, ok := networks[id]
	if !ok {
		return Network{}, fmt.Errorf("ethereum: unknown network %q", id)
	}
	return n, nil
}

func init() {
	RegisterNetwork(Mainnet)
}

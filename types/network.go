package types

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Network identifies a settlement domain. Signatures and nonces are scoped
// to a network via its chain id; a valid authorization for one network fails
// verification on every other.
type Network string

const (
	NetworkEthereum    Network = "ethereum"
	NetworkSepolia     Network = "sepolia" // testnet
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
)

var chainIDs = map[Network]int64{
	NetworkEthereum:    1,
	NetworkSepolia:     11155111,
	NetworkPolygon:     137,
	NetworkPolygonAmoy: 80002,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
}

// ChainID returns the EVM chain id bound to the network.
func (n Network) ChainID() (*big.Int, bool) {
	id, ok := chainIDs[n]
	if !ok {
		return nil, false
	}
	return big.NewInt(id), true
}

func (n Network) IsTestnet() bool {
	return n == NetworkSepolia || n == NetworkPolygonAmoy || n == NetworkBaseSepolia
}

func (n Network) String() string {
	return string(n)
}

// Networks returns all networks with a known chain binding.
func Networks() []Network {
	out := make([]Network, 0, len(chainIDs))
	for n := range chainIDs {
		out = append(out, n)
	}
	return out
}

// Scheme is the authorization scheme of a payment. The set is closed:
// decoding an unknown scheme fails immediately rather than deep inside
// signature verification.
type Scheme string

const (
	// SchemeExact authorizes a transfer of an exact value via an
	// EIP-3009 TransferWithAuthorization signature.
	SchemeExact Scheme = "exact"
)

// Supported reports whether the scheme is one this implementation can settle.
func (s Scheme) Supported() bool {
	return s == SchemeExact
}

func (s Scheme) String() string {
	return string(s)
}

// UnmarshalJSON rejects schemes outside the closed set at decode time.
func (s *Scheme) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := Scheme(raw)
	if !parsed.Supported() {
		return fmt.Errorf("unsupported payment scheme: %q", raw)
	}
	*s = parsed
	return nil
}

// Package svm implements the Solana SPL-token "exact" scheme (spec §2's
// ExactSvm variant), mirroring the layout of mechanisms/evm: a network
// config table, a client-side scheme that builds and partially signs a
// transfer, and a facilitator-side scheme that verifies the payer's
// signature and relays the transaction on-chain.
package svm

import "fmt"

// SchemeExact is the scheme identifier this package implements.
const SchemeExact = "exact"

// SPLTokenProgramID is the canonical SPL Token program address.
const SPLTokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// NetworkConfig describes one Solana cluster this facilitator can settle on.
type NetworkConfig struct {
	RPCEndpoint string
	USDCMint    string
}

var networkConfigs = map[string]NetworkConfig{
	"solana:mainnet": {
		RPCEndpoint: "https://api.mainnet-beta.solana.com",
		USDCMint:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	},
	"solana:devnet": {
		RPCEndpoint: "https://api.devnet.solana.com",
		USDCMint:    "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
	},
}

// GetNetworkConfig returns the cluster configuration for a CAIP-2 Solana
// network id, e.g. "solana:mainnet".
func GetNetworkConfig(network string) (NetworkConfig, error) {
	cfg, ok := networkConfigs[network]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported solana network: %s", network)
	}
	return cfg, nil
}

// IsValidNetwork reports whether network is a known Solana cluster.
func IsValidNetwork(network string) bool {
	_, ok := networkConfigs[network]
	return ok
}

// AssetMint resolves a requirements.Asset value ("usdc" or an explicit base58
// mint address) to the mint address to transfer.
func AssetMint(network, asset string) (string, error) {
	if asset == "" || asset == "usdc" {
		cfg, err := GetNetworkConfig(network)
		if err != nil {
			return "", err
		}
		return cfg.USDCMint, nil
	}
	return asset, nil
}

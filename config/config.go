// Package config centralizes environment parsing for cmd/facilitator: the
// signer keys, listening port, and per-network RPC endpoints, loaded from
// the process environment (and an optional .env file via godotenv).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the facilitator process's runtime configuration.
type Config struct {
	Port string

	EVMPrivateKeys []string
	SVMPrivateKey  string

	EVMNetworks       []string
	SVMNetworks       []string
	StarknetNetworks  []string

	// RPCOverrides maps a CAIP-2 network id to its RPC endpoint, read from
	// RPC_URL_<NETWORK_WITH_UNDERSCORES>, e.g. RPC_URL_EIP155_8453.
	RPCOverrides map[string]string

	// CDPAPIKeyID/CDPAPIKeySecret are Coinbase Developer Platform
	// credentials read from CDP_API_KEY_ID/CDP_API_KEY_SECRET. Nothing in
	// this module uses them: RPCURL resolves only RPCOverrides, and signers
	// are built from private keys.
	CDPAPIKeyID     string
	CDPAPIKeySecret string
}

const DefaultPort = "4022"

// Load reads configuration from the environment, first loading a .env file
// from the working directory if one is present (missing .env is not an
// error — godotenv.Load's error is intentionally discarded, matching the
// teacher's examples).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnvDefault("PORT", DefaultPort),
		EVMPrivateKeys:   splitCSV(os.Getenv("EVM_PRIVATE_KEY")),
		SVMPrivateKey:    os.Getenv("SVM_PRIVATE_KEY"),
		EVMNetworks:      splitCSV(getEnvDefault("EVM_NETWORKS", "eip155:8453")),
		SVMNetworks:      splitCSV(os.Getenv("SVM_NETWORKS")),
		StarknetNetworks: splitCSV(os.Getenv("STARKNET_NETWORKS")),
		CDPAPIKeyID:      os.Getenv("CDP_API_KEY_ID"),
		CDPAPIKeySecret:  os.Getenv("CDP_API_KEY_SECRET"),
		RPCOverrides:     rpcOverridesFromEnv(),
	}

	if len(cfg.EVMPrivateKeys) == 0 {
		return nil, fmt.Errorf("EVM_PRIVATE_KEY environment variable is required")
	}
	return cfg, nil
}

// RPCURL resolves the RPC endpoint for a network: an explicit per-network
// override, else a default public endpoint is the caller's responsibility
// to supply (the config package only centralizes what was configured).
func (c *Config) RPCURL(network string) (string, bool) {
	url, ok := c.RPCOverrides[network]
	return url, ok
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// rpcOverridesFromEnv scans the environment for RPC_URL_<NETWORK> entries,
// converting the CAIP-2 network id back from its env-var-safe form
// (":"/"-" -> "_", uppercased).
func rpcOverridesFromEnv() map[string]string {
	overrides := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "RPC_URL_") {
			continue
		}
		network := strings.ToLower(strings.TrimPrefix(key, "RPC_URL_"))
		network = strings.Replace(network, "_", ":", 1)
		network = strings.ReplaceAll(network, "_", "-")
		overrides[network] = value
	}
	return overrides
}

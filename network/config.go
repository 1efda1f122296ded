package network

import "fmt"

// RPCConfig holds the connection parameters for a ledger node's JSON-RPC interface.
type RPCConfig struct {
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
	Network  string `json:"network"`
}

// NetworkPresets contains default RPC configurations for known networks.
// Mainnet is intentionally omitted to require explicit configuration.
var NetworkPresets = map[string]RPCConfig{
	"simulator": {URL: "http://localhost:9256", User: "dig", Password: "dig"},
	"testnet":   {URL: "http://localhost:9257", User: "dig", Password: "dig"},
}

// ResolveConfig merges RPC configuration from three sources with decreasing priority:
//  1. CLI flags (highest priority)
//  2. Environment variables (DIG_RPC_URL, DIG_RPC_USER, DIG_RPC_PASS)
//  3. Network presets (lowest priority, simulator/testnet only)
func ResolveConfig(flags *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}

	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	if env != nil {
		if v, ok := env["DIG_RPC_URL"]; ok && v != "" {
			result.URL = v
		}
		if v, ok := env["DIG_RPC_USER"]; ok && v != "" {
			result.User = v
		}
		if v, ok := env["DIG_RPC_PASS"]; ok && v != "" {
			result.Password = v
		}
	}

	if flags != nil {
		if flags.URL != "" {
			result.URL = flags.URL
		}
		if flags.User != "" {
			result.User = flags.User
		}
		if flags.Password != "" {
			result.Password = flags.Password
		}
	}

	if result.URL == "" {
		return nil, fmt.Errorf("network: %s requires explicit RPC configuration (set --rpc-url, DIG_RPC_URL, or config file)", network)
	}

	return &result, nil
}

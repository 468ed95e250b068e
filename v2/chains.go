package v2

import (
	"fmt"
	"strconv"
	"strings"
)

// NetworkType classifies a CAIP-2 network by the signing/verification rules
// its virtual machine requires.
type NetworkType int

const (
	NetworkTypeUnknown NetworkType = iota
	NetworkTypeEVM
	NetworkTypeSVM
)

// CAIP-2 network identifiers this module ships chain configuration for.
// Solana identifiers use the genesis hash as the CAIP-2 reference, per the
// chain's own namespace convention; EVM identifiers use the numeric chain ID.
const (
	NetworkBase      = "eip155:8453"
	NetworkPolygon   = "eip155:137"
	NetworkAvalanche = "eip155:43114"
	NetworkEthereum  = "eip155:1"

	NetworkBaseSepolia   = "eip155:84532"
	NetworkPolygonAmoy   = "eip155:80002"
	NetworkAvalancheFuji = "eip155:43113"
	NetworkSepolia       = "eip155:11155111"

	NetworkSolanaMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkSolanaDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

// ChainConfig describes the USDC deployment and EIP-712 domain parameters a
// network needs for the exact scheme. EIP3009Name/Version are blank for
// Solana, which has no EIP-712 equivalent.
type ChainConfig struct {
	Network        string
	USDCAddress    string
	Decimals       uint8
	EIP3009Name    string
	EIP3009Version string
}

// Known USDC deployments, verified 2025-10-28 through 2025-10-30. Token
// names/versions here are the exact EIP-712 domain strings each deployment's
// contract was itself deployed with, not a convention this module imposes.
var (
	BaseMainnet = ChainConfig{Network: NetworkBase, USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6, EIP3009Name: "USD Coin", EIP3009Version: "2"}
	PolygonMainnet = ChainConfig{Network: NetworkPolygon, USDCAddress: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6, EIP3009Name: "USD Coin", EIP3009Version: "2"}
	AvalancheMainnet = ChainConfig{Network: NetworkAvalanche, USDCAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6, EIP3009Name: "USD Coin", EIP3009Version: "2"}
	EthereumMainnet = ChainConfig{Network: NetworkEthereum, USDCAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, EIP3009Name: "USD Coin", EIP3009Version: "2"}

	BaseSepolia = ChainConfig{Network: NetworkBaseSepolia, USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6, EIP3009Name: "USDC", EIP3009Version: "2"}
	PolygonAmoy = ChainConfig{Network: NetworkPolygonAmoy, USDCAddress: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", Decimals: 6, EIP3009Name: "USDC", EIP3009Version: "2"}
	AvalancheFuji = ChainConfig{Network: NetworkAvalancheFuji, USDCAddress: "0x5425890298aed601595a70AB815c96711a31Bc65", Decimals: 6, EIP3009Name: "USD Coin", EIP3009Version: "2"}
	Sepolia = ChainConfig{Network: NetworkSepolia, USDCAddress: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Decimals: 6, EIP3009Name: "USDC", EIP3009Version: "2"}

	SolanaMainnet = ChainConfig{Network: NetworkSolanaMainnet, USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6}
	SolanaDevnet  = ChainConfig{Network: NetworkSolanaDevnet, USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Decimals: 6}
)

// registeredChains lists every chain this module knows, in declaration
// order; chainConfigByNetwork is built from it rather than written out as a
// second literal so the two never drift.
var registeredChains = []ChainConfig{
	BaseMainnet, PolygonMainnet, AvalancheMainnet, EthereumMainnet,
	BaseSepolia, PolygonAmoy, AvalancheFuji, Sepolia,
	SolanaMainnet, SolanaDevnet,
}

var chainConfigByNetwork = buildChainIndex(registeredChains)

func buildChainIndex(chains []ChainConfig) map[string]ChainConfig {
	idx := make(map[string]ChainConfig, len(chains))
	for _, c := range chains {
		idx[c.Network] = c
	}
	return idx
}

// GetChainConfig looks up the chain configuration for a CAIP-2 network
// identifier. Returns ErrInvalidNetwork if the network isn't registered.
func GetChainConfig(network string) (ChainConfig, error) {
	config, ok := chainConfigByNetwork[network]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
	}
	return config, nil
}

// SupportedNetworks returns the CAIP-2 identifiers of every chain this
// module has a ChainConfig for, for use in /supported responses.
func SupportedNetworks() []string {
	names := make([]string, 0, len(registeredChains))
	for _, c := range registeredChains {
		names = append(names, c.Network)
	}
	return names
}

// ValidateNetwork parses a CAIP-2 identifier and classifies its namespace,
// without requiring the network to be one of the registered chains above
// (an unregistered-but-well-formed eip155/solana identifier is still valid,
// it just has no known USDC deployment).
func ValidateNetwork(network string) (NetworkType, error) {
	if network == "" {
		return NetworkTypeUnknown, fmt.Errorf("%w: network cannot be empty", ErrInvalidNetwork)
	}

	namespace, reference, ok := strings.Cut(network, ":")
	if !ok {
		return NetworkTypeUnknown, fmt.Errorf("%w: invalid CAIP-2 format: %s", ErrInvalidNetwork, network)
	}
	if reference == "" {
		return NetworkTypeUnknown, fmt.Errorf("%w: missing network reference: %s", ErrInvalidNetwork, network)
	}

	switch namespace {
	case "eip155":
		if _, err := strconv.ParseInt(reference, 10, 64); err != nil {
			return NetworkTypeUnknown, fmt.Errorf("%w: invalid EIP-155 chain ID: %s", ErrInvalidNetwork, reference)
		}
		return NetworkTypeEVM, nil
	case "solana":
		if len(reference) < 32 || len(reference) > 44 {
			return NetworkTypeUnknown, fmt.Errorf("%w: invalid Solana genesis hash length: %s", ErrInvalidNetwork, reference)
		}
		return NetworkTypeSVM, nil
	default:
		return NetworkTypeUnknown, fmt.Errorf("%w: unsupported namespace: %s", ErrInvalidNetwork, namespace)
	}
}

// GetChainID extracts the numeric chain ID from an eip155 CAIP-2 identifier.
func GetChainID(network string) (int64, error) {
	namespace, reference, ok := strings.Cut(network, ":")
	if !ok {
		return 0, fmt.Errorf("%w: invalid CAIP-2 format: %s", ErrInvalidNetwork, network)
	}
	if namespace != "eip155" {
		return 0, fmt.Errorf("%w: not an EVM network: %s", ErrInvalidNetwork, network)
	}
	chainID, err := strconv.ParseInt(reference, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid chain ID: %s", ErrInvalidNetwork, reference)
	}
	return chainID, nil
}

// GetSolanaGenesisHash extracts the genesis hash from a solana CAIP-2 identifier.
func GetSolanaGenesisHash(network string) (string, error) {
	namespace, reference, ok := strings.Cut(network, ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid CAIP-2 format: %s", ErrInvalidNetwork, network)
	}
	if namespace != "solana" {
		return "", fmt.Errorf("%w: not a Solana network: %s", ErrInvalidNetwork, network)
	}
	return reference, nil
}

// NewUSDCTokenConfig builds the TokenConfig a Signer advertises for USDC on
// chain, at the given selection priority.
func NewUSDCTokenConfig(chain ChainConfig, priority int) TokenConfig {
	return TokenConfig{
		Address:  chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: 6,
		Priority: priority,
		Name:     "USD Coin",
	}
}

package v2

import (
	"errors"
	"strings"
	"testing"
)

// registeredChainFixtures pairs every named ChainConfig var with the CAIP-2
// identifier constant it should carry, so the constant/config wiring and the
// registry built from it are checked together instead of in two places.
var registeredChainFixtures = map[string]struct {
	config  ChainConfig
	network string
	eip3009 bool
}{
	"Base":          {BaseMainnet, NetworkBase, true},
	"Polygon":       {PolygonMainnet, NetworkPolygon, true},
	"Avalanche":     {AvalancheMainnet, NetworkAvalanche, true},
	"Ethereum":      {EthereumMainnet, NetworkEthereum, true},
	"BaseSepolia":   {BaseSepolia, NetworkBaseSepolia, true},
	"PolygonAmoy":   {PolygonAmoy, NetworkPolygonAmoy, true},
	"AvalancheFuji": {AvalancheFuji, NetworkAvalancheFuji, true},
	"Sepolia":       {Sepolia, NetworkSepolia, true},
	"SolanaMainnet": {SolanaMainnet, NetworkSolanaMainnet, false},
	"SolanaDevnet":  {SolanaDevnet, NetworkSolanaDevnet, false},
}

func TestRegisteredChainFixtures(t *testing.T) {
	for name, fixture := range registeredChainFixtures {
		fixture := fixture
		t.Run(name, func(t *testing.T) {
			if fixture.config.Network != fixture.network {
				t.Fatalf("Network = %q, want %q", fixture.config.Network, fixture.network)
			}
			if fixture.config.USDCAddress == "" {
				t.Fatal("USDCAddress must not be empty")
			}
			if fixture.config.Decimals != 6 {
				t.Fatalf("Decimals = %d, want 6", fixture.config.Decimals)
			}

			hasEIP3009 := fixture.config.EIP3009Name != "" && fixture.config.EIP3009Version != ""
			if hasEIP3009 != fixture.eip3009 {
				t.Fatalf("EIP3009 params present = %v, want %v (name=%q version=%q)",
					hasEIP3009, fixture.eip3009, fixture.config.EIP3009Name, fixture.config.EIP3009Version)
			}
		})
	}
}

func TestGetChainConfigRoundTrip(t *testing.T) {
	for name, fixture := range registeredChainFixtures {
		name, fixture := name, fixture
		t.Run(name, func(t *testing.T) {
			got, err := GetChainConfig(fixture.network)
			if err != nil {
				t.Fatalf("GetChainConfig(%q) returned %v", fixture.network, err)
			}
			if got != fixture.config {
				t.Fatalf("GetChainConfig(%q) = %+v, want %+v", fixture.network, got, fixture.config)
			}
		})
	}

	t.Run("unregistered network", func(t *testing.T) {
		_, err := GetChainConfig("eip155:99999")
		if !errors.Is(err, ErrInvalidNetwork) {
			t.Fatalf("error = %v, want wrapped ErrInvalidNetwork", err)
		}
	})
}

func TestSupportedNetworks(t *testing.T) {
	names := SupportedNetworks()
	if len(names) != len(registeredChainFixtures) {
		t.Fatalf("SupportedNetworks() returned %d entries, want %d", len(names), len(registeredChainFixtures))
	}

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for name, fixture := range registeredChainFixtures {
		if !seen[fixture.network] {
			t.Errorf("SupportedNetworks() missing %s (%s)", name, fixture.network)
		}
	}
}

func TestValidateNetwork(t *testing.T) {
	cases := []struct {
		network  string
		wantType NetworkType
		wantErr  string // substring of the error message, empty if no error expected
	}{
		{network: "eip155:8453", wantType: NetworkTypeEVM},
		{network: "eip155:84532", wantType: NetworkTypeEVM},
		{network: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", wantType: NetworkTypeSVM},
		{network: "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", wantType: NetworkTypeSVM},
		{network: "", wantErr: "cannot be empty"},
		{network: "eip1558453", wantErr: "invalid CAIP-2 format"},
		{network: "eip155:", wantErr: "missing network reference"},
		{network: "eip155:abc", wantErr: "invalid EIP-155 chain ID"},
		{network: "cosmos:cosmoshub-4", wantErr: "unsupported namespace"},
		{network: "solana:short", wantErr: "invalid Solana genesis hash length"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.network, func(t *testing.T) {
			gotType, err := ValidateNetwork(tc.network)

			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if gotType != tc.wantType {
					t.Fatalf("type = %v, want %v", gotType, tc.wantType)
				}
				return
			}

			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
			if gotType != NetworkTypeUnknown {
				t.Fatalf("type on error = %v, want NetworkTypeUnknown", gotType)
			}
			if !errors.Is(err, ErrInvalidNetwork) {
				t.Fatalf("error = %v, want wrapped ErrInvalidNetwork", err)
			}
		})
	}
}

func TestGetChainID(t *testing.T) {
	evmNetworks := map[string]int64{
		NetworkBase:          8453,
		NetworkEthereum:      1,
		NetworkBaseSepolia:   84532,
		NetworkSepolia:       11155111,
		NetworkPolygon:       137,
		NetworkPolygonAmoy:   80002,
		NetworkAvalanche:     43114,
		NetworkAvalancheFuji: 43113,
	}

	for network, want := range evmNetworks {
		network, want := network, want
		t.Run(network, func(t *testing.T) {
			got, err := GetChainID(network)
			if err != nil {
				t.Fatalf("GetChainID(%q) returned %v", network, err)
			}
			if got != want {
				t.Fatalf("GetChainID(%q) = %d, want %d", network, got, want)
			}
		})
	}

	for _, network := range []string{NetworkSolanaMainnet, "invalid"} {
		network := network
		t.Run("rejects "+network, func(t *testing.T) {
			if _, err := GetChainID(network); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestGetSolanaGenesisHash(t *testing.T) {
	solanaNetworks := map[string]string{
		NetworkSolanaMainnet: "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		NetworkSolanaDevnet:  "EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
	}

	for network, want := range solanaNetworks {
		network, want := network, want
		t.Run(network, func(t *testing.T) {
			got, err := GetSolanaGenesisHash(network)
			if err != nil {
				t.Fatalf("GetSolanaGenesisHash(%q) returned %v", network, err)
			}
			if got != want {
				t.Fatalf("GetSolanaGenesisHash(%q) = %q, want %q", network, got, want)
			}
		})
	}

	for _, network := range []string{NetworkBase, "invalid"} {
		network := network
		t.Run("rejects "+network, func(t *testing.T) {
			if _, err := GetSolanaGenesisHash(network); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestNewUSDCTokenConfig(t *testing.T) {
	token := NewUSDCTokenConfig(BaseMainnet, 3)

	if token.Address != BaseMainnet.USDCAddress {
		t.Errorf("Address = %s, want %s", token.Address, BaseMainnet.USDCAddress)
	}
	if token.Symbol != "USDC" {
		t.Errorf("Symbol = %s, want USDC", token.Symbol)
	}
	if token.Decimals != 6 {
		t.Errorf("Decimals = %d, want 6", token.Decimals)
	}
	if token.Priority != 3 {
		t.Errorf("Priority = %d, want 3", token.Priority)
	}
	if token.Name != "USD Coin" {
		t.Errorf("Name = %s, want USD Coin", token.Name)
	}
}

package token

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	xerrors "SendPilot/internal/errors"
)

func testNetworks() map[string]map[string]Entry {
	return map[string]map[string]Entry{
		"base-sepolia": {
			"usdc": {Address: "0x036cbd53842c5426634e7929541ec2318f3dcf7e", Decimals: 6},
			"DAI":  {Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		},
	}
}

func TestRegistryNormalizesSymbolsAndAddresses(t *testing.T) {
	registry, err := New(testNetworks())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := registry.Lookup("base-sepolia", "usdc")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	// 地址必须被归一化为 EIP-55 checksum 形式。
	if entry.Address != "0x036CbD53842c5426634e7929541eC2318f3dCF7e" {
		t.Fatalf("address not checksummed: %s", entry.Address)
	}
	if entry.Decimals != 6 {
		t.Fatalf("unexpected decimals: %d", entry.Decimals)
	}

	// 符号匹配大小写不敏感。
	if _, err := registry.Lookup("base-sepolia", "Usdc"); err != nil {
		t.Fatalf("mixed-case lookup failed: %v", err)
	}
}

func TestRegistryUnknownToken(t *testing.T) {
	registry, err := New(testNetworks())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = registry.Lookup("base-sepolia", "DOGE")
	if !xerrors.HasCode(err, xerrors.CodeUnknownToken) {
		t.Fatalf("expected unknown token error, got %v", err)
	}
	_, err = registry.Lookup("arbitrum", "USDC")
	if !xerrors.HasCode(err, xerrors.CodeUnknownToken) {
		t.Fatalf("expected unknown token error for unknown network, got %v", err)
	}
}

func TestRegistryRejectsBadAddress(t *testing.T) {
	_, err := New(map[string]map[string]Entry{
		"base-sepolia": {"USDC": {Address: "0x1234", Decimals: 6}},
	})
	if !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument error, got %v", err)
	}
}

func TestRegistrySymbolsSorted(t *testing.T) {
	registry, err := New(testNetworks())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := registry.Symbols("base-sepolia"); !reflect.DeepEqual(got, []string{"DAI", "USDC"}) {
		t.Fatalf("unexpected symbols: %v", got)
	}
}

func TestLoadFromYAML(t *testing.T) {
	content := `networks:
  base-sepolia:
    USDC:
      address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
      decimals: 6
`
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	registry, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	entry, err := registry.Lookup("base-sepolia", "USDC")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if entry.Decimals != 6 {
		t.Fatalf("unexpected decimals: %d", entry.Decimals)
	}
}

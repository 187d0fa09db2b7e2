package provider

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "SendPilot/internal/errors"
	"SendPilot/internal/web3"
)

type fakeBackend struct {
	name   string
	closed bool
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error)   { return big.NewInt(1), nil }
func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{}, nil
}
func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error)  { return big.NewInt(1), nil }
func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeBackend) SupportsEIP1559(context.Context) (bool, error)      { return false, nil }
func (f *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) Close() { f.closed = true }

const chainsYAML = `chains:
  base-sepolia:
    rpc_url: https://sepolia.base.org
    native_symbol: ETH
  polygon:
    rpc_url: https://polygon-rpc.com
    native_symbol: MATIC
`

func newTestRegistry(t *testing.T, defaultChain string) (*Registry, *int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(chainsYAML), 0o644); err != nil {
		t.Fatalf("write chains config: %v", err)
	}
	registry, err := NewRegistry(context.Background(), Config{ChainConfig: path, DefaultChain: defaultChain})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	dials := 0
	registry.dial = func(_ context.Context, name string, _ web3.ChainDefinition) (web3.Backend, error) {
		dials++
		return &fakeBackend{name: name}, nil
	}
	return registry, &dials
}

func TestNewRegistryDoesNotDial(t *testing.T) {
	registry, dials := newTestRegistry(t, "base-sepolia")
	if *dials != 0 {
		t.Fatalf("construction must not dial, got %d", *dials)
	}
	if registry.DefaultChain() != "base-sepolia" {
		t.Fatalf("unexpected default chain: %s", registry.DefaultChain())
	}
	if registry.NativeSymbol("polygon") != "MATIC" {
		t.Fatalf("unexpected native symbol: %s", registry.NativeSymbol("polygon"))
	}
}

func TestBackendDialsOnceOnFirstUse(t *testing.T) {
	registry, dials := newTestRegistry(t, "base-sepolia")

	first, err := registry.Backend(context.Background(), "polygon")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := registry.Backend(context.Background(), "polygon")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("backend must be cached after the first dial")
	}
	if *dials != 1 {
		t.Fatalf("expected a single dial, got %d", *dials)
	}
}

func TestBackendUnknownNetworkWithoutDial(t *testing.T) {
	registry, dials := newTestRegistry(t, "base-sepolia")

	_, err := registry.Backend(context.Background(), "arbitrum")
	if !xerrors.HasCode(err, xerrors.CodeUnknownNetwork) {
		t.Fatalf("expected unknown network error, got %v", err)
	}
	if *dials != 0 {
		t.Fatalf("unknown network must not dial, got %d", *dials)
	}
}

func TestBackendDialFailureIsRetried(t *testing.T) {
	registry, _ := newTestRegistry(t, "base-sepolia")
	attempts := 0
	registry.dial = func(context.Context, string, web3.ChainDefinition) (web3.Backend, error) {
		attempts++
		if attempts == 1 {
			return nil, xerrors.New(xerrors.CodeBackendConnection, "连接节点失败")
		}
		return &fakeBackend{}, nil
	}

	if _, err := registry.Backend(context.Background(), "polygon"); err == nil {
		t.Fatalf("expected first dial to fail")
	}
	if _, err := registry.Backend(context.Background(), "polygon"); err != nil {
		t.Fatalf("second dial should succeed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected retry on next request, got %d attempts", attempts)
	}
}

func TestCloseReleasesDialedBackends(t *testing.T) {
	registry, _ := newTestRegistry(t, "base-sepolia")
	backend, err := registry.Backend(context.Background(), "base-sepolia")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	registry.Close()
	if !backend.(*fakeBackend).closed {
		t.Fatalf("close must release dialed backends")
	}
}

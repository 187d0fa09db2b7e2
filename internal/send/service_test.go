package send

import (
	"context"
	"math/big"
	"strings"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	xerrors "SendPilot/internal/errors"
	"SendPilot/internal/token"
	"SendPilot/internal/web3"
	"SendPilot/internal/web3/provider"
)

type stubBackend struct {
	chainID  *big.Int
	nonce    uint64
	gasPrice *big.Int
	gasLimit uint64
	decimals uint8

	rpcCalls      int
	contractCalls int
}

func (s *stubBackend) ChainID(context.Context) (*big.Int, error) {
	s.rpcCalls++
	return s.chainID, nil
}

func (s *stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	s.rpcCalls++
	return s.nonce, nil
}

func (s *stubBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	s.rpcCalls++
	return &coretypes.Header{}, nil
}

func (s *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	s.rpcCalls++
	return s.gasPrice, nil
}

func (s *stubBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	s.rpcCalls++
	return big.NewInt(0), nil
}

func (s *stubBackend) SupportsEIP1559(context.Context) (bool, error) {
	s.rpcCalls++
	return false, nil
}

func (s *stubBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	s.rpcCalls++
	return s.gasLimit, nil
}

// CallContract 仅用于 decimals() 查询，返回 ABI 编码的 uint8。
func (s *stubBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	s.rpcCalls++
	s.contractCalls++
	out := make([]byte, 32)
	out[31] = s.decimals
	return out, nil
}

func (s *stubBackend) Close() {}

func newTestPreparer(t *testing.T, backend web3.Backend) *Preparer {
	t.Helper()
	chains := provider.NewStaticRegistry("base-sepolia",
		map[string]web3.Backend{"base-sepolia": backend},
		map[string]string{"base-sepolia": "ETH"})
	tokens, err := token.New(map[string]map[string]token.Entry{
		"base-sepolia": {
			"USDC": {Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6},
			"WETH": {Address: "0x4200000000000000000000000000000000000006"},
		},
	})
	if err != nil {
		t.Fatalf("build token registry: %v", err)
	}
	return NewPreparer(chains, tokens)
}

func testRequest(t *testing.T, amount, symbol, network string) Request {
	t.Helper()
	req, err := NewRequest(senderLower, recipientHex, decimal.RequireFromString(amount), symbol, network)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestPrepareNativeTransfer(t *testing.T) {
	backend := &stubBackend{
		chainID:  big.NewInt(84532),
		nonce:    3,
		gasPrice: big.NewInt(1_000_000_000),
		gasLimit: 21000,
	}
	preparer := newTestPreparer(t, backend)

	result, err := preparer.Prepare(context.Background(), testRequest(t, "0.5", "ETH", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Network != "base-sepolia" {
		t.Fatalf("default network not applied: %s", result.Network)
	}
	wantWei := new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	if result.AmountBaseUnits.Cmp(wantWei) != 0 {
		t.Fatalf("unexpected base units: %v", result.AmountBaseUnits)
	}
	if result.Transaction.Nonce != 3 || result.Transaction.ChainID.Cmp(big.NewInt(84532)) != 0 {
		t.Fatalf("unexpected transaction: %+v", result.Transaction)
	}
	if !strings.HasPrefix(result.Summary, "Prepared transaction estimate:") {
		t.Fatalf("unexpected summary: %s", result.Summary)
	}
	if !strings.Contains(result.Summary, "Gas price: 1 GWEI") {
		t.Fatalf("summary missing gas price line: %s", result.Summary)
	}
}

func TestPrepareTokenTransfer(t *testing.T) {
	backend := &stubBackend{
		chainID:  big.NewInt(84532),
		nonce:    3,
		gasPrice: big.NewInt(1_000_000_000),
		gasLimit: 60000,
		decimals: 6,
	}
	preparer := newTestPreparer(t, backend)

	result, err := preparer.Prepare(context.Background(), testRequest(t, "1.5", "USDC", "base-sepolia"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AmountBaseUnits.Cmp(big.NewInt(1_500_000)) != 0 {
		t.Fatalf("unexpected base units: %v", result.AmountBaseUnits)
	}
	if result.Transaction.Value != nil {
		t.Fatalf("token transfer must not carry native value")
	}
	if len(result.Transaction.Data) == 0 {
		t.Fatalf("token transfer must carry calldata")
	}
	if result.Transaction.To != common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e") {
		t.Fatalf("transaction must target the token contract, got %s", result.Transaction.To)
	}
}

func TestPrepareTokenUsesRegistryDecimals(t *testing.T) {
	backend := &stubBackend{
		chainID:  big.NewInt(84532),
		nonce:    3,
		gasPrice: big.NewInt(1_000_000_000),
		gasLimit: 60000,
	}
	preparer := newTestPreparer(t, backend)

	result, err := preparer.Prepare(context.Background(), testRequest(t, "1.5", "USDC", "base-sepolia"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AmountBaseUnits.Cmp(big.NewInt(1_500_000)) != 0 {
		t.Fatalf("unexpected base units: %v", result.AmountBaseUnits)
	}
	if backend.contractCalls != 0 {
		t.Fatalf("registry declares the decimals, no contract call expected, got %d", backend.contractCalls)
	}
}

func TestPrepareTokenFallsBackToOnChainDecimals(t *testing.T) {
	backend := &stubBackend{
		chainID:  big.NewInt(84532),
		nonce:    3,
		gasPrice: big.NewInt(1_000_000_000),
		gasLimit: 60000,
		decimals: 18,
	}
	preparer := newTestPreparer(t, backend)

	result, err := preparer.Prepare(context.Background(), testRequest(t, "1.5", "WETH", "base-sepolia"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantUnits := new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	if result.AmountBaseUnits.Cmp(wantUnits) != 0 {
		t.Fatalf("unexpected base units: %v", result.AmountBaseUnits)
	}
	if backend.contractCalls != 1 {
		t.Fatalf("decimals should come from the contract, got %d calls", backend.contractCalls)
	}
}

func TestPrepareUnknownTokenBeforeAnyRPC(t *testing.T) {
	backend := &stubBackend{chainID: big.NewInt(84532)}
	preparer := newTestPreparer(t, backend)

	_, err := preparer.Prepare(context.Background(), testRequest(t, "1", "DOGE", "base-sepolia"))
	if !xerrors.HasCode(err, xerrors.CodeUnknownToken) {
		t.Fatalf("expected unknown token error, got %v", err)
	}
	if backend.rpcCalls != 0 {
		t.Fatalf("no RPC call expected before token lookup, got %d", backend.rpcCalls)
	}
}

func TestPrepareUnknownNetwork(t *testing.T) {
	backend := &stubBackend{chainID: big.NewInt(84532)}
	preparer := newTestPreparer(t, backend)

	_, err := preparer.Prepare(context.Background(), testRequest(t, "1", "ETH", "arbitrum"))
	if !xerrors.HasCode(err, xerrors.CodeUnknownNetwork) {
		t.Fatalf("expected unknown network error, got %v", err)
	}
}

func TestPrepareRejectsSubBaseUnitAmount(t *testing.T) {
	backend := &stubBackend{
		chainID:  big.NewInt(84532),
		nonce:    3,
		gasPrice: big.NewInt(1_000_000_000),
		gasLimit: 60000,
		decimals: 6,
	}
	preparer := newTestPreparer(t, backend)

	// 0.0000001 USDC 是 0.1 个最小单位，超出可表示精度。
	_, err := preparer.Prepare(context.Background(), testRequest(t, "0.0000001", "USDC", "base-sepolia"))
	if !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestToBaseUnitsRequiresExactConversion(t *testing.T) {
	units, err := toBaseUnits(decimal.RequireFromString("1.00000001"), 6)
	if err == nil {
		t.Fatalf("expected rejection for 1.00000001 at 6 decimals, got %v", units)
	}
	units, err = toBaseUnits(decimal.RequireFromString("1.5"), 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if units.Cmp(big.NewInt(1_500_000)) != 0 {
		t.Fatalf("unexpected units: %v", units)
	}
}

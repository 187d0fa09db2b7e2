package txbuild

import (
	"context"
	"errors"
	"math/big"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "SendPilot/internal/errors"
)

type stubBackend struct {
	chainID     *big.Int
	nonce       uint64
	baseFee     *big.Int
	gasPrice    *big.Int
	tipCap      *big.Int
	modern      bool
	modernErr   error
	gasLimit    uint64
	estimateErr error
	callResult  []byte
	callErr     error

	estimateCalls int
	rpcCalls      int
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
	return &coretypes.Header{BaseFee: s.baseFee}, nil
}

func (s *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	s.rpcCalls++
	return s.gasPrice, nil
}

func (s *stubBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	s.rpcCalls++
	return s.tipCap, nil
}

func (s *stubBackend) SupportsEIP1559(context.Context) (bool, error) {
	s.rpcCalls++
	return s.modern, s.modernErr
}

func (s *stubBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	s.rpcCalls++
	s.estimateCalls++
	if s.estimateErr != nil {
		return 0, s.estimateErr
	}
	return s.gasLimit, nil
}

func (s *stubBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	s.rpcCalls++
	return s.callResult, s.callErr
}

func (s *stubBackend) Close() {}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestEstimateModernFees(t *testing.T) {
	backend := &stubBackend{
		modern:   true,
		baseFee:  gwei(10),
		tipCap:   gwei(1),
		gasLimit: 21000,
	}
	estimator := NewEstimator(backend)

	fees, err := estimator.Estimate(context.Background(), gethcore.CallMsg{}, Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fees.GasLimit != 21000 {
		t.Fatalf("unexpected gas limit: %d", fees.GasLimit)
	}
	if fees.GasPrice != nil {
		t.Fatalf("legacy gas price should be empty, got %v", fees.GasPrice)
	}
	// max fee = base fee + 2x tip
	if want := gwei(12); fees.MaxFeePerGas.Cmp(want) != 0 {
		t.Fatalf("unexpected max fee: got %v want %v", fees.MaxFeePerGas, want)
	}
	if fees.MaxPriorityFeePerGas.Cmp(gwei(1)) != 0 {
		t.Fatalf("unexpected tip: %v", fees.MaxPriorityFeePerGas)
	}
}

func TestEstimateLegacyFees(t *testing.T) {
	backend := &stubBackend{
		modern:   false,
		gasPrice: gwei(1),
		gasLimit: 21000,
	}
	estimator := NewEstimator(backend)

	fees, err := estimator.Estimate(context.Background(), gethcore.CallMsg{}, Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fees.GasPrice.Cmp(gwei(1)) != 0 {
		t.Fatalf("unexpected gas price: %v", fees.GasPrice)
	}
	if fees.MaxFeePerGas != nil || fees.MaxPriorityFeePerGas != nil {
		t.Fatalf("modern fee fields should be empty: %+v", fees)
	}
}

func TestEstimateGasFailureIsNotDefaulted(t *testing.T) {
	backend := &stubBackend{
		modern:      true,
		estimateErr: errors.New("execution reverted"),
	}
	estimator := NewEstimator(backend)

	_, err := estimator.Estimate(context.Background(), gethcore.CallMsg{}, Overrides{})
	if !xerrors.HasCode(err, xerrors.CodeGasEstimation) {
		t.Fatalf("expected gas estimation error, got %v", err)
	}
}

func TestEstimateMissingBaseFee(t *testing.T) {
	backend := &stubBackend{
		modern:   true,
		tipCap:   gwei(1),
		gasLimit: 21000,
	}
	estimator := NewEstimator(backend)

	_, err := estimator.Estimate(context.Background(), gethcore.CallMsg{}, Overrides{})
	if !xerrors.HasCode(err, xerrors.CodeFeeUnavailable) {
		t.Fatalf("expected fee unavailable error, got %v", err)
	}
}

func TestEstimateHonorsOverrides(t *testing.T) {
	backend := &stubBackend{
		modern:      true,
		estimateErr: errors.New("should not be called"),
	}
	estimator := NewEstimator(backend)

	fees, err := estimator.Estimate(context.Background(), gethcore.CallMsg{}, Overrides{
		GasLimit:             50000,
		MaxFeePerGas:         gwei(20),
		MaxPriorityFeePerGas: gwei(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.estimateCalls != 0 {
		t.Fatalf("estimate should not run when overridden, ran %d times", backend.estimateCalls)
	}
	if fees.GasLimit != 50000 || fees.MaxFeePerGas.Cmp(gwei(20)) != 0 {
		t.Fatalf("overrides not applied: %+v", fees)
	}
}

package txbuild

import (
	"context"
	"math/big"

	xerrors "SendPilot/internal/errors"
	"SendPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
)

// FeeParams 描述一笔交易的 gas 费用参数。
// 不变量：legacy 与 EIP-1559 两组字段恰好只有一组被填充。
type FeeParams struct {
	GasLimit             uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Clone 返回独立副本，big.Int 字段不与原值共享。
func (f FeeParams) Clone() FeeParams {
	return FeeParams{
		GasLimit:             f.GasLimit,
		GasPrice:             cloneBig(f.GasPrice),
		MaxFeePerGas:         cloneBig(f.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(f.MaxPriorityFeePerGas),
	}
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Overrides 允许调用方覆盖费用估算的任意部分，零值表示使用网络建议值。
type Overrides struct {
	GasLimit             uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Estimator 基于目标网络的实时定价状态计算费用参数。
type Estimator struct {
	backend web3.Backend
}

// NewEstimator 构造费用估算器。
func NewEstimator(backend web3.Backend) *Estimator {
	return &Estimator{backend: backend}
}

// Estimate 针对给定的调用骨架计算 FeeParams。
// gas limit 未指定时通过模拟执行获得，模拟失败直接返回 GAS_ESTIMATION，
// 绝不退回到任意默认值。
func (e *Estimator) Estimate(ctx context.Context, msg gethcore.CallMsg, ov Overrides) (FeeParams, error) {
	if e == nil || e.backend == nil {
		return FeeParams{}, xerrors.New(xerrors.CodeInitializationFailure, "费用估算器未初始化")
	}

	gasLimit := ov.GasLimit
	if gasLimit == 0 {
		estimated, err := e.backend.EstimateGas(ctx, msg)
		if err != nil {
			return FeeParams{}, xerrors.Wrap(xerrors.CodeGasEstimation, err, "模拟执行估算 gas 失败")
		}
		gasLimit = estimated
	}

	modern, err := e.backend.SupportsEIP1559(ctx)
	if err != nil {
		return FeeParams{}, err
	}

	if modern {
		return e.modernFees(ctx, gasLimit, ov)
	}
	return e.legacyFees(ctx, gasLimit, ov)
}

func (e *Estimator) modernFees(ctx context.Context, gasLimit uint64, ov Overrides) (FeeParams, error) {
	tip := ov.MaxPriorityFeePerGas
	if tip == nil {
		suggested, err := e.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return FeeParams{}, err
		}
		tip = suggested
	}

	maxFee := ov.MaxFeePerGas
	if maxFee == nil {
		header, err := e.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return FeeParams{}, err
		}
		if header.BaseFee == nil {
			// 节点状态自相矛盾：声明支持现代费率却拿不到 baseFee。
			return FeeParams{}, xerrors.New(xerrors.CodeFeeUnavailable,
				"网络声明支持 EIP-1559 但最新区块缺少 baseFeePerGas")
		}
		maxFee = new(big.Int).Add(header.BaseFee, new(big.Int).Mul(tip, big.NewInt(2)))
	}

	return FeeParams{
		GasLimit:             gasLimit,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
	}, nil
}

func (e *Estimator) legacyFees(ctx context.Context, gasLimit uint64, ov Overrides) (FeeParams, error) {
	gasPrice := ov.GasPrice
	if gasPrice == nil {
		suggested, err := e.backend.SuggestGasPrice(ctx)
		if err != nil {
			return FeeParams{}, err
		}
		gasPrice = suggested
	}
	return FeeParams{GasLimit: gasLimit, GasPrice: gasPrice}, nil
}

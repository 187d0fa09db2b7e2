package send

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	xerrors "SendPilot/internal/errors"
	"SendPilot/internal/token"
	"SendPilot/internal/txbuild"
	"SendPilot/internal/web3"
	"SendPilot/internal/web3/provider"
	"SendPilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// nativeDecimals 是原生币的最小单位精度（wei）。
const nativeDecimals = 18

// FeeInfo 是返回给上层的费用明细。
type FeeInfo struct {
	GasLimit             uint64   `json:"gas_limit"`
	GasPrice             *big.Int `json:"gas_price,omitempty"`
	MaxFeePerGas         *big.Int `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas,omitempty"`
}

// Clone 返回独立副本，big.Int 字段不与原值共享。
func (f FeeInfo) Clone() FeeInfo {
	return FeeInfo{
		GasLimit:             f.GasLimit,
		GasPrice:             cloneBigInt(f.GasPrice),
		MaxFeePerGas:         cloneBigInt(f.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBigInt(f.MaxPriorityFeePerGas),
	}
}

// Result 是一次转账准备的不可变快照，会作为待确认结果存入会话。
type Result struct {
	Summary          string                       `json:"summary"`
	Network          string                       `json:"network"`
	TokenSymbol      string                       `json:"token_symbol"`
	Amount           decimal.Decimal              `json:"amount"`
	AmountBaseUnits  *big.Int                     `json:"amount_base_units"`
	Transaction      *txbuild.UnsignedTransaction `json:"transaction"`
	SenderAddress    string                       `json:"sender_address"`
	RecipientAddress string                       `json:"recipient_address"`
	FeeInfo          FeeInfo                      `json:"fee_info"`
}

// Clone 返回深拷贝，存储层用它隔离外部修改。
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	clone.AmountBaseUnits = cloneBigInt(r.AmountBaseUnits)
	clone.Transaction = r.Transaction.Clone()
	clone.FeeInfo = r.FeeInfo.Clone()
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Preparer 负责把转账意图编排成 Result：区分原生/代币路径、解析代币
// 元数据、调用交易装配器，并产出人类可读的摘要。
type Preparer struct {
	chains *provider.Registry
	tokens *token.Registry
	log    *slog.Logger
}

// NewPreparer 构造转账准备服务。
func NewPreparer(chains *provider.Registry, tokens *token.Registry) *Preparer {
	return &Preparer{
		chains: chains,
		tokens: tokens,
		log:    logger.Named("send"),
	}
}

// Prepare 按 Request 构建未签名交易并返回完整快照。
// 校验类错误在任何网络调用之前返回；费用/估算错误原样传播。
func (p *Preparer) Prepare(ctx context.Context, req Request) (*Result, error) {
	if p == nil || p.chains == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "转账准备服务未初始化")
	}

	network := req.Network
	if network == "" {
		network = p.chains.DefaultChain()
	}
	backend, err := p.chains.Backend(ctx, network)
	if err != nil {
		return nil, err
	}
	builder := txbuild.NewBuilder(backend)

	sender := common.HexToAddress(req.SenderAddress)
	recipient := common.HexToAddress(req.RecipientAddress)

	if req.TokenSymbol == p.chains.NativeSymbol(network) {
		return p.prepareNative(ctx, builder, network, req, sender, recipient)
	}
	return p.prepareToken(ctx, builder, backend, network, req, sender, recipient)
}


func (p *Preparer) prepareNative(ctx context.Context, builder *txbuild.Builder, network string, req Request, sender, recipient common.Address) (*Result, error) {
	amountWei, err := toBaseUnits(req.Amount, nativeDecimals)
	if err != nil {
		return nil, err
	}

	tx, err := builder.BuildNativeTransfer(ctx, sender, recipient, amountWei, txbuild.Overrides{})
	if err != nil {
		return nil, err
	}

	p.log.Info("已构建原生币转账", slog.String("network", network),
		slog.String("token", req.TokenSymbol), slog.String("amount", req.Amount.String()))
	return p.buildResult(network, req, amountWei, tx), nil
}

func (p *Preparer) prepareToken(ctx context.Context, builder *txbuild.Builder, backend web3.Backend, network string, req Request, sender, recipient common.Address) (*Result, error) {
	entry, err := p.tokens.Lookup(network, req.TokenSymbol)
	if err != nil {
		return nil, err
	}
	contract := common.HexToAddress(entry.Address)

	// 注册表声明了精度就直接使用，只有未声明（零值）时才回链上查询。
	decimals := entry.Decimals
	if decimals == 0 {
		onchain, err := txbuild.TokenDecimals(ctx, backend, contract)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeBackendConnection, err, "查询代币精度失败")
		}
		decimals = onchain
	}

	amountBaseUnits, err := toBaseUnits(req.Amount, int32(decimals))
	if err != nil {
		return nil, err
	}

	tx, err := builder.BuildTokenTransfer(ctx, contract, sender, recipient, amountBaseUnits, txbuild.Overrides{})
	if err != nil {
		return nil, err
	}

	p.log.Info("已构建代币转账", slog.String("network", network),
		slog.String("token", req.TokenSymbol), slog.String("amount", req.Amount.String()),
		slog.String("contract", entry.Address))
	return p.buildResult(network, req, amountBaseUnits, tx), nil
}

func (p *Preparer) buildResult(network string, req Request, baseUnits *big.Int, tx *txbuild.UnsignedTransaction) *Result {
	feeInfo := FeeInfo{
		GasLimit:             tx.Fees.GasLimit,
		GasPrice:             tx.Fees.GasPrice,
		MaxFeePerGas:         tx.Fees.MaxFeePerGas,
		MaxPriorityFeePerGas: tx.Fees.MaxPriorityFeePerGas,
	}
	return &Result{
		Summary:          buildSummary(network, req, feeInfo),
		Network:          network,
		TokenSymbol:      req.TokenSymbol,
		Amount:           req.Amount,
		AmountBaseUnits:  baseUnits,
		Transaction:      tx,
		SenderAddress:    req.SenderAddress,
		RecipientAddress: req.RecipientAddress,
		FeeInfo:          feeInfo,
	}
}

// toBaseUnits 把人类可读金额换算到最小单位。换算必须精确：
// 余数非零即判定为精度不可表示，拒绝而不是静默截断。
func toBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("金额 %s 无法在 %d 位小数精度内精确表示", amount, decimals))
	}
	return shifted.BigInt(), nil
}

// buildSummary 产出固定格式的人类可读摘要。
func buildSummary(network string, req Request, fee FeeInfo) string {
	var feeLine string
	if fee.MaxFeePerGas != nil {
		maxFeeGwei := decimal.NewFromBigInt(fee.MaxFeePerGas, -9)
		tipGwei := decimal.Zero
		if fee.MaxPriorityFeePerGas != nil {
			tipGwei = decimal.NewFromBigInt(fee.MaxPriorityFeePerGas, -9)
		}
		feeLine = fmt.Sprintf("Max fee per gas: %s GWEI (priority tip: %s GWEI)", maxFeeGwei, tipGwei)
	} else {
		gasPriceGwei := decimal.Zero
		if fee.GasPrice != nil {
			gasPriceGwei = decimal.NewFromBigInt(fee.GasPrice, -9)
		}
		feeLine = fmt.Sprintf("Gas price: %s GWEI", gasPriceGwei)
	}

	lines := []string{
		"Prepared transaction estimate:",
		fmt.Sprintf("- Network: %s", network),
		fmt.Sprintf("- Sender: %s", req.SenderAddress),
		fmt.Sprintf("- Recipient: %s", req.RecipientAddress),
		fmt.Sprintf("- Token: %s", req.TokenSymbol),
		fmt.Sprintf("- Amount: %s", req.Amount),
		fmt.Sprintf("- Estimated gas limit: %d", fee.GasLimit),
		fmt.Sprintf("- %s", feeLine),
	}
	return strings.Join(lines, "\n")
}

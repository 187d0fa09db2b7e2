package txbuild

import (
	"context"
	"encoding/json"
	"math/big"

	xerrors "SendPilot/internal/errors"
	"SendPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// UnsignedTransaction 是一笔完整但未签名的交易记录，交给外部钱包签名。
// nonce 取自构建时刻发送方的实时交易计数，不会在多次构建之间复用。
type UnsignedTransaction struct {
	From    common.Address
	To      common.Address
	Value   *big.Int
	Data    []byte
	Nonce   uint64
	ChainID *big.Int
	Type    uint8
	Fees    FeeParams
}

// Clone 返回深拷贝，持有方修改副本不影响原交易。
func (tx *UnsignedTransaction) Clone() *UnsignedTransaction {
	if tx == nil {
		return nil
	}
	clone := *tx
	clone.Value = cloneBig(tx.Value)
	clone.ChainID = cloneBig(tx.ChainID)
	clone.Data = append([]byte(nil), tx.Data...)
	clone.Fees = tx.Fees.Clone()
	return &clone
}

// wireTx 是标准 EVM JSON 交易对象的序列化形式。
type wireTx struct {
	From                 common.Address  `json:"from"`
	To                   common.Address  `json:"to"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	ChainID              *hexutil.Big    `json:"chainId"`
	Type                 hexutil.Uint64  `json:"type"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
}

// MarshalJSON 输出与 EVM 交易对象兼容的 JSON 形态。
func (tx *UnsignedTransaction) MarshalJSON() ([]byte, error) {
	wire := wireTx{
		From:    tx.From,
		To:      tx.To,
		Data:    tx.Data,
		Nonce:   hexutil.Uint64(tx.Nonce),
		ChainID: (*hexutil.Big)(tx.ChainID),
		Type:    hexutil.Uint64(tx.Type),
		Gas:     hexutil.Uint64(tx.Fees.GasLimit),
	}
	if tx.Value != nil && tx.Value.Sign() > 0 {
		wire.Value = (*hexutil.Big)(tx.Value)
	}
	if tx.Fees.GasPrice != nil {
		wire.GasPrice = (*hexutil.Big)(tx.Fees.GasPrice)
	} else {
		wire.MaxFeePerGas = (*hexutil.Big)(tx.Fees.MaxFeePerGas)
		wire.MaxPriorityFeePerGas = (*hexutil.Big)(tx.Fees.MaxPriorityFeePerGas)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON 从标准 EVM JSON 形态还原，供会话存储后端做状态序列化。
func (tx *UnsignedTransaction) UnmarshalJSON(data []byte) error {
	var wire wireTx
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	tx.From = wire.From
	tx.To = wire.To
	tx.Value = (*big.Int)(wire.Value)
	tx.Data = wire.Data
	tx.Nonce = uint64(wire.Nonce)
	tx.ChainID = (*big.Int)(wire.ChainID)
	tx.Type = uint8(wire.Type)
	tx.Fees = FeeParams{
		GasLimit:             uint64(wire.Gas),
		GasPrice:             (*big.Int)(wire.GasPrice),
		MaxFeePerGas:         (*big.Int)(wire.MaxFeePerGas),
		MaxPriorityFeePerGas: (*big.Int)(wire.MaxPriorityFeePerGas),
	}
	return nil
}

// Builder 将校验过的转账意图装配成未签名交易。
// 费用估算错误原样向上传播，由调用方决定是否携带显式覆盖参数重试。
type Builder struct {
	backend   web3.Backend
	estimator *Estimator
}

// NewBuilder 构造交易装配器。
func NewBuilder(backend web3.Backend) *Builder {
	return &Builder{backend: backend, estimator: NewEstimator(backend)}
}

// BuildNativeTransfer 装配一笔原生币转账。
func (b *Builder) BuildNativeTransfer(ctx context.Context, sender, recipient common.Address, amountWei *big.Int, ov Overrides) (*UnsignedTransaction, error) {
	msg := gethcore.CallMsg{From: sender, To: &recipient, Value: amountWei}
	return b.assemble(ctx, sender, recipient, amountWei, nil, msg, ov)
}

// BuildTokenTransfer 装配一笔 ERC20 代币转账：对代币合约编码标准
// transfer 调用，并按合约调用模拟估算 gas。
func (b *Builder) BuildTokenTransfer(ctx context.Context, tokenContract, sender, recipient common.Address, amountBaseUnits *big.Int, ov Overrides) (*UnsignedTransaction, error) {
	calldata, err := TransferCalldata(recipient, amountBaseUnits)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "构建代币转账数据失败")
	}
	msg := gethcore.CallMsg{From: sender, To: &tokenContract, Data: calldata}
	return b.assemble(ctx, sender, tokenContract, nil, calldata, msg, ov)
}

func (b *Builder) assemble(ctx context.Context, sender, to common.Address, value *big.Int, data []byte, msg gethcore.CallMsg, ov Overrides) (*UnsignedTransaction, error) {
	if b == nil || b.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易装配器未初始化")
	}

	nonce, err := b.backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, err
	}
	chainID, err := b.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	fees, err := b.estimator.Estimate(ctx, msg, ov)
	if err != nil {
		return nil, err
	}

	txType := uint8(coretypes.LegacyTxType)
	if fees.GasPrice == nil {
		txType = uint8(coretypes.DynamicFeeTxType)
	}

	return &UnsignedTransaction{
		From:    sender,
		To:      to,
		Value:   value,
		Data:    data,
		Nonce:   nonce,
		ChainID: chainID,
		Type:    txType,
		Fees:    fees,
	}, nil
}

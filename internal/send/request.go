package send

import (
	"fmt"
	"regexp"
	"strings"

	xerrors "SendPilot/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Request 是一次经过校验、归一化的转账意图。
// 地址均为 checksum 形式，符号统一大写，金额严格为正。
// 每次工具调用创建一个，交易构建完成后即丢弃。
type Request struct {
	SenderAddress    string
	RecipientAddress string
	Amount           decimal.Decimal
	TokenSymbol      string
	Network          string
}

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// 工具参数映射中允许出现的键。未知键直接拒绝，而不是静默忽略。
var allowedArgKeys = map[string]bool{
	"sender_address":    true,
	"recipient_address": true,
	"amount":            true,
	"token_symbol":      true,
	"network":           true,
}

// ParseArgs 将模型给出的松散参数映射立即转为强类型请求。
// 任何校验失败都发生在第一次网络调用之前。
func ParseArgs(args map[string]any) (Request, error) {
	for key := range args {
		if !allowedArgKeys[key] {
			return Request{}, xerrors.New(xerrors.CodeValidation,
				fmt.Sprintf("未知的转账参数: %s", key))
		}
	}

	sender, err := stringArg(args, "sender_address", true)
	if err != nil {
		return Request{}, err
	}
	recipient, err := stringArg(args, "recipient_address", true)
	if err != nil {
		return Request{}, err
	}
	amount, err := amountArg(args)
	if err != nil {
		return Request{}, err
	}
	symbol, err := stringArg(args, "token_symbol", false)
	if err != nil {
		return Request{}, err
	}
	if symbol == "" {
		symbol = "ETH"
	}
	network, err := stringArg(args, "network", false)
	if err != nil {
		return Request{}, err
	}

	return NewRequest(sender, recipient, amount, symbol, network)
}

// NewRequest 执行完整校验并返回归一化的请求。纯函数，无副作用。
func NewRequest(sender, recipient string, amount decimal.Decimal, symbol, network string) (Request, error) {
	normalizedSender, err := normalizeAddress(sender, "sender_address")
	if err != nil {
		return Request{}, err
	}
	normalizedRecipient, err := normalizeAddress(recipient, "recipient_address")
	if err != nil {
		return Request{}, err
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return Request{}, xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("转账金额必须大于 0，实际为 %s", amount))
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Request{}, xerrors.New(xerrors.CodeValidation, "代币符号不能为空")
	}

	return Request{
		SenderAddress:    normalizedSender,
		RecipientAddress: normalizedRecipient,
		Amount:           amount,
		TokenSymbol:      symbol,
		Network:          strings.TrimSpace(network),
	}, nil
}

// normalizeAddress 校验 0x + 40 位十六进制格式并返回 EIP-55 checksum 形式。
func normalizeAddress(value, field string) (string, error) {
	value = strings.TrimSpace(value)
	if !evmAddressPattern.MatchString(value) {
		return "", xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("%s 不是合法的 EVM 地址: %s", field, value))
	}
	return common.HexToAddress(value).Hex(), nil
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return "", xerrors.New(xerrors.CodeValidation,
				fmt.Sprintf("缺少必填参数 %s", key))
		}
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("参数 %s 必须是字符串", key))
	}
	return value, nil
}

func amountArg(args map[string]any) (decimal.Decimal, error) {
	raw, ok := args["amount"]
	if !ok || raw == nil {
		return decimal.Zero, xerrors.New(xerrors.CodeValidation, "缺少必填参数 amount")
	}
	switch v := raw.(type) {
	case string:
		amount, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, xerrors.New(xerrors.CodeValidation,
				fmt.Sprintf("金额不是合法的数字: %s", v))
		}
		return amount, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Zero, xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("金额类型不受支持: %T", raw))
	}
}

package txbuild

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"SendPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABIJSON 只包含本服务需要的两个方法。
const erc20ABIJSON = `[
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var (
	erc20ABIOnce sync.Once
	erc20ABI     abi.ABI
	erc20ABIErr  error
)

func loadERC20ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// TransferCalldata 编码标准的 ERC20 transfer(address,uint256) 调用数据。
func TransferCalldata(recipient common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := loadERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	data, err := parsed.Pack("transfer", recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("编码 transfer 调用失败: %w", err)
	}
	return data, nil
}

// TokenDecimals 读取代币合约声明的小数位数。
func TokenDecimals(ctx context.Context, backend web3.Backend, tokenContract common.Address) (uint8, error) {
	parsed, err := loadERC20ABI()
	if err != nil {
		return 0, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	calldata, err := parsed.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("编码 decimals 调用失败: %w", err)
	}

	raw, err := backend.CallContract(ctx, gethcore.CallMsg{To: &tokenContract, Data: calldata}, nil)
	if err != nil {
		return 0, fmt.Errorf("读取代币 decimals 失败: %w", err)
	}

	values, err := parsed.Unpack("decimals", raw)
	if err != nil {
		return 0, fmt.Errorf("解析 decimals 返回值失败: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("decimals 返回了意外的值数量: %d", len(values))
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals 返回了意外的类型 %T", values[0])
	}
	return decimals, nil
}

package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	xerrors "SendPilot/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements the web3.Backend interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client

	// feeMarket 缓存 EIP-1559 探测结果，连接生命周期内只探测一次。
	feeMu     sync.Mutex
	feeProbed bool
	feeMarket bool
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use
// client. Dial failure is fatal for the instance; callers must construct a
// fresh client to retry.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendConnection, err, "连接节点失败",
			xerrors.WithMetadata("network", cfg.Name))
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Name returns the configured network name.
func (c *Client) Name() string {
	return c.name
}

// Close releases the network connection held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

// ChainID implements web3.Backend.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendConnection, err, "获取链 ID 失败")
	}
	return id, nil
}

// PendingNonceAt implements web3.Backend.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeBackendConnection, err, "查询交易计数失败")
	}
	return nonce, nil
}

// HeaderByNumber implements web3.Backend.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	header, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendConnection, err, "获取区块头失败")
	}
	return header, nil
}

// SuggestGasPrice implements web3.Backend.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendConnection, err, "获取 gas price 失败")
	}
	return price, nil
}

// SuggestGasTipCap implements web3.Backend.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendConnection, err, "获取小费建议失败")
	}
	return tip, nil
}

// methodNotFoundCode 是 JSON-RPC 规范中方法不存在的错误码。
const methodNotFoundCode = -32601

// SupportsEIP1559 probes the node's fee-history capability and caches the
// answer for the lifetime of the connection. Only definitive outcomes are
// cached: a successful probe, or the node reporting that eth_feeHistory does
// not exist. Transient failures propagate and the next call probes again.
func (c *Client) SupportsEIP1559(ctx context.Context) (bool, error) {
	c.feeMu.Lock()
	defer c.feeMu.Unlock()
	if c.feeProbed {
		return c.feeMarket, nil
	}
	_, err := c.eth.FeeHistory(ctx, 1, nil, nil)
	if err == nil {
		c.feeProbed = true
		c.feeMarket = true
		return true, nil
	}
	if ctx.Err() != nil {
		return false, xerrors.Wrap(xerrors.CodeTimeout, err, "EIP-1559 探测被取消")
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == methodNotFoundCode {
		// 节点明确表示没有 eth_feeHistory，按 legacy 计价。
		c.feeProbed = true
		c.feeMarket = false
		return false, nil
	}
	return false, xerrors.Wrap(xerrors.CodeBackendConnection, err, "EIP-1559 探测失败")
}

// EstimateGas implements web3.Backend.
func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		// 模拟执行失败（例如会 revert）交给上层判定为估算错误。
		return 0, err
	}
	return gas, nil
}

// CallContract implements web3.Backend.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}

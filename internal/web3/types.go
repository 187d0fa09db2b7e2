package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend defines the narrow chain-access surface the transaction pipeline
// needs. It is implemented by the go-ethereum client and by test stubs, so
// higher layers never depend on a concrete RPC implementation.
type Backend interface {
	// ChainID returns the identifier of the connected chain.
	ChainID(ctx context.Context) (*big.Int, error)
	// PendingNonceAt returns the live transaction count of the account,
	// including pending transactions.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	// HeaderByNumber returns the header of the given block, latest when nil.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	// SuggestGasPrice returns the node's legacy gas price suggestion.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// SuggestGasTipCap returns the node's priority fee suggestion.
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	// SupportsEIP1559 reports whether the connected chain exposes the modern
	// fee market. Implementations cache the probe for the connection lifetime.
	SupportsEIP1559(ctx context.Context) (bool, error)
	// EstimateGas simulates the call against current chain state.
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	// CallContract executes a read-only contract call.
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

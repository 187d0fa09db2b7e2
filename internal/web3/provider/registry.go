package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "SendPilot/internal/errors"
	"SendPilot/internal/web3"
	"SendPilot/internal/web3/ethereum"
)

// Registry manages chain backends keyed by human readable network names.
// Backends are dialed on first use so that one unreachable RPC endpoint in
// the configuration does not prevent startup or block the other networks.
type Registry struct {
	defaultChain string
	chains       map[string]web3.ChainDefinition
	nativeSymbol map[string]string
	dial         dialFunc

	mu       sync.Mutex
	backends map[string]web3.Backend
}

type dialFunc func(ctx context.Context, name string, chain web3.ChainDefinition) (web3.Backend, error)

// Config 描述注册表的初始化参数。
type Config struct {
	ChainConfig  string
	DefaultChain string
}

// NewRegistry loads chain definitions and validates them. No RPC endpoint is
// contacted here; dialing happens lazily in Backend.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	if len(defs.Chains) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任何网络的 RPC 端点")
	}

	chains := make(map[string]web3.ChainDefinition, len(defs.Chains))
	nativeSymbol := make(map[string]string, len(defs.Chains))
	for name, chain := range defs.Chains {
		if strings.TrimSpace(chain.RPCURL) == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("网络 %s 未配置 RPC 地址", name))
		}
		chains[name] = chain
		nativeSymbol[name] = chain.NativeSymbol
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if defaultChain == "" {
		names := make([]string, 0, len(chains))
		for name := range chains {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := chains[defaultChain]; !ok {
		return nil, xerrors.New(xerrors.CodeUnknownNetwork,
			fmt.Sprintf("默认网络 %s 未在配置中找到", defaultChain))
	}

	return &Registry{
		defaultChain: defaultChain,
		chains:       chains,
		nativeSymbol: nativeSymbol,
		dial:         dialEthereum,
		backends:     make(map[string]web3.Backend, len(chains)),
	}, nil
}

func dialEthereum(ctx context.Context, name string, chain web3.ChainDefinition) (web3.Backend, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		Name:   name,
		RPCURL: chain.RPCURL,
		Notes:  chain.Description,
	})
}

// NewStaticRegistry 用现成的 backend 构造注册表，测试与内嵌场景使用。
func NewStaticRegistry(defaultChain string, backends map[string]web3.Backend, nativeSymbol map[string]string) *Registry {
	if backends == nil {
		backends = map[string]web3.Backend{}
	}
	return &Registry{
		defaultChain: defaultChain,
		nativeSymbol: nativeSymbol,
		backends:     backends,
	}
}

// DefaultChain returns the name of the configured default network.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Backend returns the backend for the named network, dialing it on first use.
func (r *Registry) Backend(ctx context.Context, name string) (web3.Backend, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "网络注册表未初始化")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if backend, ok := r.backends[name]; ok {
		return backend, nil
	}

	chain, ok := r.chains[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknownNetwork,
			fmt.Sprintf("网络 %s 未在配置中找到", name))
	}
	backend, err := r.dial(ctx, name, chain)
	if err != nil {
		// 拨号失败不缓存，下次请求重试。
		return nil, fmt.Errorf("初始化网络 %s 失败: %w", name, err)
	}
	r.backends[name] = backend
	return backend, nil
}

// NativeSymbol returns the native currency symbol of the named network.
func (r *Registry) NativeSymbol(name string) string {
	if r == nil {
		return "ETH"
	}
	if symbol, ok := r.nativeSymbol[name]; ok && symbol != "" {
		return symbol
	}
	return "ETH"
}

// Chains returns the sorted list of registered network names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chains)+len(r.backends))
	seen := make(map[string]struct{}, len(r.chains)+len(r.backends))
	for name := range r.chains {
		names = append(names, name)
		seen[name] = struct{}{}
	}
	for name := range r.backends {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Close releases all backends dialed so far.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, backend := range r.backends {
		if backend != nil {
			backend.Close()
		}
		delete(r.backends, name)
	}
}

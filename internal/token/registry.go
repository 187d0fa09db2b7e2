package token

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	xerrors "SendPilot/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Entry 描述某个网络上的一个代币合约。
type Entry struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// Registry 保存 网络 -> 代币符号 -> 合约 的静态映射。
// 启动时加载一次，之后只读。
type Registry struct {
	networks map[string]map[string]Entry
}

type registryFile struct {
	Networks map[string]map[string]Entry `yaml:"networks"`
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Load 解析 YAML 代币注册表文件。
func Load(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币注册表失败: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析代币注册表失败: %w", err)
	}
	return New(file.Networks)
}

// New 用现成的映射构造注册表，符号统一转为大写，地址做 checksum 归一化。
func New(networks map[string]map[string]Entry) (*Registry, error) {
	normalized := make(map[string]map[string]Entry, len(networks))
	for network, tokens := range networks {
		entries := make(map[string]Entry, len(tokens))
		for symbol, entry := range tokens {
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if symbol == "" {
				return nil, xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("网络 %s 存在空的代币符号", network))
			}
			addr := strings.TrimSpace(entry.Address)
			if !addressPattern.MatchString(addr) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("代币 %s 在网络 %s 上的合约地址非法: %s", symbol, network, addr))
			}
			entry.Address = common.HexToAddress(addr).Hex()
			entries[symbol] = entry
		}
		normalized[network] = entries
	}
	return &Registry{networks: normalized}, nil
}

// Lookup 返回指定网络上某代币的合约信息。
func (r *Registry) Lookup(network, symbol string) (Entry, error) {
	if r == nil {
		return Entry{}, xerrors.New(xerrors.CodeInitializationFailure, "代币注册表未初始化")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	tokens, ok := r.networks[network]
	if !ok {
		return Entry{}, xerrors.New(xerrors.CodeUnknownToken,
			fmt.Sprintf("网络 %s 没有配置任何代币", network))
	}
	entry, ok := tokens[symbol]
	if !ok {
		return Entry{}, xerrors.New(xerrors.CodeUnknownToken,
			fmt.Sprintf("代币 %s 未在网络 %s 上配置", symbol, network))
	}
	return entry, nil
}

// Symbols 返回某网络上已配置的代币符号，按字典序。
func (r *Registry) Symbols(network string) []string {
	if r == nil {
		return nil
	}
	tokens := r.networks[network]
	symbols := make([]string, 0, len(tokens))
	for symbol := range tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

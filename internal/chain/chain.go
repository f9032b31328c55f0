package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativePlaceholder 是调用方用来表示原生资产的约定地址。
var NativePlaceholder = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Token 描述一个 ERC20 代币的地址与精度。
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// ProtocolContracts 保存单个 AMM 协议在本链上的合约地址。
type ProtocolContracts struct {
	Factory common.Address
	Router  common.Address
	Quoter  common.Address
}

// Contracts 汇总核心依赖的链上合约地址。
type Contracts struct {
	Multicall    common.Address
	Executor     common.Address
	TransferAuth common.Address
	Protocols    map[string]ProtocolContracts
}

// Context 是单条链的只读上下文：链 ID、代币与合约注册表。
type Context struct {
	ChainID           *big.Int
	WrappedNative     common.Address
	Tokens            map[string]Token
	Intermediaries    []common.Address
	IntermediaryPairs [][2]common.Address
	Contracts         Contracts

	byAddress map[common.Address]Token
}

// Provider 按链 ID 提供链上下文，由配置层实现。
type Provider interface {
	Context(chainID uint64) (*Context, error)
}

// NewContext 构建链上下文并建立地址反查索引。
func NewContext(chainID *big.Int, wrappedNative common.Address, tokens []Token, contracts Contracts) *Context {
	ctx := &Context{
		ChainID:       chainID,
		WrappedNative: wrappedNative,
		Tokens:        make(map[string]Token, len(tokens)),
		Contracts:     contracts,
		byAddress:     make(map[common.Address]Token, len(tokens)),
	}
	for _, t := range tokens {
		ctx.Tokens[strings.ToUpper(t.Symbol)] = t
		ctx.byAddress[t.Address] = t
	}
	return ctx
}

// Normalize 把原生资产占位地址解析为链上的包装代币地址。
func (c *Context) Normalize(addr common.Address) common.Address {
	if addr == NativePlaceholder {
		return c.WrappedNative
	}
	return addr
}

// TokenByAddress 按地址反查代币信息。
func (c *Context) TokenByAddress(addr common.Address) (Token, bool) {
	t, ok := c.byAddress[addr]
	return t, ok
}

// TokenBySymbol 按符号查找代币信息。
func (c *Context) TokenBySymbol(symbol string) (Token, bool) {
	t, ok := c.Tokens[strings.ToUpper(symbol)]
	return t, ok
}

// Protocol 返回指定协议的合约地址。
func (c *Context) Protocol(name string) (ProtocolContracts, error) {
	pc, ok := c.Contracts.Protocols[name]
	if !ok {
		return ProtocolContracts{}, fmt.Errorf("chain: 未配置协议 %q 的合约地址", name)
	}
	return pc, nil
}

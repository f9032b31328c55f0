package route

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoRoute 表示所有协议都没有产出可行路径。
// 流动性随时间变化，调用方可以稍后重试。
var ErrNoRoute = errors.New("route: 没有可行路径")

// Route 描述一条候选兑换路径。每次查询新建，只被替换、从不原地修改。
type Route struct {
	Path        []common.Address
	Fees        []*big.Int
	PoolID      common.Hash
	AmountOut   *big.Int
	GasEstimate uint64
	Score       float64
	Protocol    string
	Version     string

	// RefAmountIn/RefAmountOut 是小额参考报价，用于估算价格冲击。
	RefAmountIn  *big.Int
	RefAmountOut *big.Int
	// Liquidity 是池子规模的粗略度量，缺失时不参与加分。
	Liquidity *big.Int
}

// Hops 返回路径的跳数。
func (r *Route) Hops() int {
	if len(r.Path) < 2 {
		return 0
	}
	return len(r.Path) - 1
}

// Key 是路径+费率档位的去重键。
func (r *Route) Key() string {
	var b strings.Builder
	for _, addr := range r.Path {
		b.WriteString(addr.Hex())
		b.WriteByte('|')
	}
	for _, fee := range r.Fees {
		b.WriteString(fee.String())
		b.WriteByte('|')
	}
	return b.String()
}

// QueryKey 构造缓存键：(tokenIn, amountIn, tokenOut, 协议范围)。
func QueryKey(tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, scope string) string {
	return fmt.Sprintf("%s|%s|%s|%s", tokenIn.Hex(), amountIn.String(), tokenOut.Hex(), scope)
}

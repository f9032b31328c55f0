package route

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"dex-relayer/internal/multicall"
)

// Protocol 是单个 AMM 协议的能力接口：生成候选路径、构造批量请求、
// 解读批量结果。每个协议一个实现，注册进查找表，优化器无须知道
// 协议身份即可新增协议。
type Protocol interface {
	Name() string
	GenerateRoutes(tokenIn, tokenOut common.Address, maxHops int) []*Route
	BuildBatchRequests(routes []*Route, amountIn *big.Int) []multicall.Request
	DecodeBatchResults(routes []*Route, results map[string]*multicall.Result) []*Route
}

// Registry 按名称登记协议实现。
type Registry struct {
	protocols map[string]Protocol
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{protocols: make(map[string]Protocol)}
}

// Register 登记一个协议，同名覆盖。
func (r *Registry) Register(p Protocol) {
	r.protocols[p.Name()] = p
}

// Get 按名称查找协议。
func (r *Registry) Get(name string) (Protocol, bool) {
	p, ok := r.protocols[name]
	return p, ok
}

// All 返回全部已登记协议，按名称排序以保证遍历顺序稳定。
func (r *Registry) All() []Protocol {
	names := make([]string, 0, len(r.protocols))
	for name := range r.protocols {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Protocol, 0, len(names))
	for _, name := range names {
		out = append(out, r.protocols[name])
	}
	return out
}

// Scope 返回注册表的协议范围标识，参与缓存键。
func (r *Registry) Scope() string {
	names := make([]string, 0, len(r.protocols))
	for name := range r.protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Topology 描述路径扩展可用的中间代币集合。
type Topology struct {
	// Intermediaries 是单中间跳候选：稳定币、包装原生币、wBTC、LST 等。
	Intermediaries []common.Address
	// IntermediaryPairs 是双中间跳的人工白名单，只保留高流动性组合。
	// 有界的白名单扩展是刻意取舍，完整双向搜索会让批量请求爆炸。
	IntermediaryPairs [][2]common.Address
}

// expandPaths 枚举直连、单中间跳与双中间跳路径。
// 中间代币等于端点或彼此相同的组合一律剔除。
func expandPaths(tokenIn, tokenOut common.Address, maxHops int, topo Topology) [][]common.Address {
	paths := [][]common.Address{{tokenIn, tokenOut}}

	if maxHops >= 2 {
		for _, mid := range topo.Intermediaries {
			if mid == tokenIn || mid == tokenOut {
				continue
			}
			paths = append(paths, []common.Address{tokenIn, mid, tokenOut})
		}
	}

	if maxHops >= 3 {
		for _, pair := range topo.IntermediaryPairs {
			a, b := pair[0], pair[1]
			if a == b || a == tokenIn || a == tokenOut || b == tokenIn || b == tokenOut {
				continue
			}
			paths = append(paths, []common.Address{tokenIn, a, b, tokenOut})
		}
	}

	return paths
}

// dedupRoutes 按路径+费率档位去重，保序。
func dedupRoutes(routes []*Route) []*Route {
	seen := make(map[string]struct{}, len(routes))
	out := routes[:0]
	for _, r := range routes {
		key := r.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func reqID(protocol string, routeIdx int, kind string, hop int) string {
	return fmt.Sprintf("%s:%d:%s:%d", protocol, routeIdx, kind, hop)
}

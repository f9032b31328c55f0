package route

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"dex-relayer/internal/chain"
	"dex-relayer/internal/multicall"
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("route: 解析内置 ABI 失败: " + err.Error())
	}
	return parsed
}

const (
	v2BaseGas   = 90_000
	v2PerHopGas = 60_000
)

const v2FactoryABIJSON = `[{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"stateMutability":"view","type":"function"}]`

const v2RouterABIJSON = `[{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

const v2PairABIJSON = `[{"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}]`

var (
	v2FactoryABI = mustParseABI(v2FactoryABIJSON)
	v2RouterABI  = mustParseABI(v2RouterABIJSON)
	v2PairABI    = mustParseABI(v2PairABIJSON)
)

// UniswapV2 实现常数乘积型协议（Uniswap V2 及其分叉）的路由能力。
type UniswapV2 struct {
	name         string
	contracts    chain.ProtocolContracts
	initCodeHash common.Hash
	feeTiers     []*big.Int
	topo         Topology
}

// NewUniswapV2 创建 V2 型协议实现。
// initCodeHash 非零时会用 CREATE2 推导配对地址并附带储备检查。
func NewUniswapV2(name string, contracts chain.ProtocolContracts, initCodeHash common.Hash, feeTiers []int64, topo Topology) *UniswapV2 {
	tiers := make([]*big.Int, len(feeTiers))
	for i, tier := range feeTiers {
		tiers[i] = big.NewInt(tier)
	}
	return &UniswapV2{
		name:         name,
		contracts:    contracts,
		initCodeHash: initCodeHash,
		feeTiers:     tiers,
		topo:         topo,
	}
}

// Name 返回协议标识。
func (p *UniswapV2) Name() string { return p.name }

// GenerateRoutes 枚举去重后的候选路径，此时尚无预估输出。
// V2 的费率由池子决定，每跳沿用协议的固定档位。
func (p *UniswapV2) GenerateRoutes(tokenIn, tokenOut common.Address, maxHops int) []*Route {
	var routes []*Route
	for _, path := range expandPaths(tokenIn, tokenOut, maxHops, p.topo) {
		fees := make([]*big.Int, len(path)-1)
		for i := range fees {
			fees[i] = p.feeTiers[0]
		}
		routes = append(routes, &Route{
			Path:        path,
			Fees:        fees,
			GasEstimate: uint64(v2BaseGas + v2PerHopGas*(len(path)-2)),
			Protocol:    p.name,
			Version:     "v2",
		})
	}
	return dedupRoutes(routes)
}

// BuildBatchRequests 为每条路径构造每跳存在性检查、整额报价与小额参考报价，
// 推导得出配对地址时再加一条储备查询。
func (p *UniswapV2) BuildBatchRequests(routes []*Route, amountIn *big.Int) []multicall.Request {
	var reqs []multicall.Request
	for i, route := range routes {
		for hop := 0; hop+1 < len(route.Path); hop++ {
			callData, err := v2FactoryABI.Pack("getPair", route.Path[hop], route.Path[hop+1])
			if err != nil {
				continue
			}
			reqs = append(reqs, multicall.Request{
				ID:       reqID(p.name, i, "exist", hop),
				Target:   p.contracts.Factory,
				CallData: callData,
				Kind:     multicall.KindExistence,
			})

			if p.initCodeHash != (common.Hash{}) {
				pair := p.pairFor(route.Path[hop], route.Path[hop+1])
				liqData, err := v2PairABI.Pack("getReserves")
				if err != nil {
					continue
				}
				reqs = append(reqs, multicall.Request{
					ID:       reqID(p.name, i, "liq", hop),
					Target:   pair,
					CallData: liqData,
					Kind:     multicall.KindLiquidity,
				})
			}
		}

		if quoteData, err := v2RouterABI.Pack("getAmountsOut", amountIn, route.Path); err == nil {
			reqs = append(reqs, multicall.Request{
				ID:       reqID(p.name, i, "quote", 0),
				Target:   p.contracts.Router,
				CallData: quoteData,
				Kind:     multicall.KindQuote,
			})
		}

		ref := refAmount(amountIn)
		if refData, err := v2RouterABI.Pack("getAmountsOut", ref, route.Path); err == nil {
			reqs = append(reqs, multicall.Request{
				ID:       reqID(p.name, i, "ref", 0),
				Target:   p.contracts.Router,
				CallData: refData,
				Kind:     multicall.KindPrice,
			})
		}
	}
	return reqs
}

// DecodeBatchResults 只保留存在性检查全部通过且报价可解码的路径。
// 失败的路径直接剔除，绝不以零分参与排序。
func (p *UniswapV2) DecodeBatchResults(routes []*Route, results map[string]*multicall.Result) []*Route {
	var viable []*Route
	for i, route := range routes {
		if !hopsExist(p.name, i, len(route.Path)-1, results) {
			continue
		}

		quote, ok := results[reqID(p.name, i, "quote", 0)]
		if !ok || !quote.Success || quote.Value == nil || quote.Value.Sign() <= 0 {
			continue
		}
		route.AmountOut = quote.Value

		if ref, ok := results[reqID(p.name, i, "ref", 0)]; ok && ref.Success && ref.Value != nil {
			route.RefAmountOut = ref.Value
		}

		route.Liquidity = sumLiquidity(p.name, i, len(route.Path)-1, results)
		viable = append(viable, route)
	}
	return viable
}

// pairFor 用 CREATE2 推导配对合约地址。
func (p *UniswapV2) pairFor(a, b common.Address) common.Address {
	token0, token1 := sortTokens(a, b)
	salt := crypto.Keccak256Hash(append(token0.Bytes(), token1.Bytes()...))
	return crypto.CreateAddress2(p.contracts.Factory, salt, p.initCodeHash.Bytes())
}

func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) < 0 {
		return a, b
	}
	return b, a
}

func hopsExist(name string, routeIdx, hops int, results map[string]*multicall.Result) bool {
	for hop := 0; hop < hops; hop++ {
		res, ok := results[reqID(name, routeIdx, "exist", hop)]
		if !ok || !res.Success || res.Address == (common.Address{}) {
			return false
		}
	}
	return true
}

func sumLiquidity(name string, routeIdx, hops int, results map[string]*multicall.Result) *big.Int {
	var total *big.Int
	for hop := 0; hop < hops; hop++ {
		res, ok := results[reqID(name, routeIdx, "liq", hop)]
		if !ok || !res.Success || res.Value == nil {
			continue
		}
		if total == nil {
			total = new(big.Int)
		}
		total.Add(total, res.Value)
	}
	return total
}

// refAmount 取整额的百分之一作为参考报价额，向下不小于1。
func refAmount(amountIn *big.Int) *big.Int {
	ref := new(big.Int).Div(amountIn, big.NewInt(100))
	if ref.Sign() <= 0 {
		return big.NewInt(1)
	}
	return ref
}

package route

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"dex-relayer/internal/chain"
	"dex-relayer/internal/multicall"
)

const (
	v3BaseGas   = 130_000
	v3PerHopGas = 90_000
)

const v3FactoryABIJSON = `[{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"name":"getPool","outputs":[{"name":"pool","type":"address"}],"stateMutability":"view","type":"function"}]`

const v3QuoterABIJSON = `[{"inputs":[{"name":"path","type":"bytes"},{"name":"amountIn","type":"uint256"}],"name":"quoteExactInput","outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}]`

var (
	v3FactoryABI = mustParseABI(v3FactoryABIJSON)
	v3QuoterABI  = mustParseABI(v3QuoterABIJSON)
)

// UniswapV3 实现集中流动性协议的路由能力。
// 报价器虽声明为非视图函数，但通过 eth_call 静态调用即可取得报价。
type UniswapV3 struct {
	name      string
	contracts chain.ProtocolContracts
	feeTiers  []*big.Int
	topo      Topology
}

// NewUniswapV3 创建 V3 型协议实现。
func NewUniswapV3(name string, contracts chain.ProtocolContracts, feeTiers []int64, topo Topology) *UniswapV3 {
	tiers := make([]*big.Int, len(feeTiers))
	for i, tier := range feeTiers {
		tiers[i] = big.NewInt(tier)
	}
	return &UniswapV3{
		name:      name,
		contracts: contracts,
		feeTiers:  tiers,
		topo:      topo,
	}
}

// Name 返回协议标识。
func (p *UniswapV3) Name() string { return p.name }

// GenerateRoutes 按每个费率档位展开候选路径：直连路径覆盖全部档位，
// 多跳路径整条沿用同一档位，避免档位组合爆炸。
func (p *UniswapV3) GenerateRoutes(tokenIn, tokenOut common.Address, maxHops int) []*Route {
	var routes []*Route
	for _, path := range expandPaths(tokenIn, tokenOut, maxHops, p.topo) {
		for _, tier := range p.feeTiers {
			fees := make([]*big.Int, len(path)-1)
			for i := range fees {
				fees[i] = tier
			}
			routes = append(routes, &Route{
				Path:        path,
				Fees:        fees,
				PoolID:      poolKey(path, fees),
				GasEstimate: uint64(v3BaseGas + v3PerHopGas*(len(path)-2)),
				Protocol:    p.name,
				Version:     "v3",
			})
		}
	}
	return dedupRoutes(routes)
}

// BuildBatchRequests 构造每跳的池子存在性检查与整条路径的报价请求。
func (p *UniswapV3) BuildBatchRequests(routes []*Route, amountIn *big.Int) []multicall.Request {
	var reqs []multicall.Request
	for i, route := range routes {
		for hop := 0; hop+1 < len(route.Path); hop++ {
			callData, err := v3FactoryABI.Pack("getPool", route.Path[hop], route.Path[hop+1], route.Fees[hop])
			if err != nil {
				continue
			}
			reqs = append(reqs, multicall.Request{
				ID:       reqID(p.name, i, "exist", hop),
				Target:   p.contracts.Factory,
				CallData: callData,
				Kind:     multicall.KindExistence,
			})
		}

		packed := packV3Path(route.Path, route.Fees)
		if quoteData, err := v3QuoterABI.Pack("quoteExactInput", packed, amountIn); err == nil {
			reqs = append(reqs, multicall.Request{
				ID:       reqID(p.name, i, "quote", 0),
				Target:   p.contracts.Quoter,
				CallData: quoteData,
				Kind:     multicall.KindQuote,
			})
		}
		if refData, err := v3QuoterABI.Pack("quoteExactInput", packed, refAmount(amountIn)); err == nil {
			reqs = append(reqs, multicall.Request{
				ID:       reqID(p.name, i, "ref", 0),
				Target:   p.contracts.Quoter,
				CallData: refData,
				Kind:     multicall.KindPrice,
			})
		}
	}
	return reqs
}

// DecodeBatchResults 剔除池子缺失或报价不可解码的路径。
func (p *UniswapV3) DecodeBatchResults(routes []*Route, results map[string]*multicall.Result) []*Route {
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
		viable = append(viable, route)
	}
	return viable
}

// packV3Path 按 token(20) ++ fee(3) ++ token(20)... 的紧凑格式编码路径。
func packV3Path(path []common.Address, fees []*big.Int) []byte {
	out := make([]byte, 0, len(path)*20+len(fees)*3)
	for i, token := range path {
		out = append(out, token.Bytes()...)
		if i < len(fees) {
			fee := fees[i].Uint64()
			out = append(out, byte(fee>>16), byte(fee>>8), byte(fee))
		}
	}
	return out
}

func poolKey(path []common.Address, fees []*big.Int) common.Hash {
	return crypto.Keccak256Hash(packV3Path(path, fees))
}

package route

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dex-relayer/internal/chain"
	"dex-relayer/internal/multicall"
)

// fakeProtocol 不做任何网络交互，直接返回预置候选。
type fakeProtocol struct {
	name          string
	routes        []*Route
	generateCalls atomic.Int64
}

func (p *fakeProtocol) Name() string { return p.name }

func (p *fakeProtocol) GenerateRoutes(_, _ common.Address, _ int) []*Route {
	p.generateCalls.Add(1)
	out := make([]*Route, len(p.routes))
	for i, r := range p.routes {
		clone := *r
		out[i] = &clone
	}
	return out
}

func (p *fakeProtocol) BuildBatchRequests(_ []*Route, _ *big.Int) []multicall.Request {
	return nil
}

func (p *fakeProtocol) DecodeBatchResults(routes []*Route, _ map[string]*multicall.Result) []*Route {
	return routes
}

var multicallTestAddr = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

func testChainCtx() *chain.Context {
	return chain.NewContext(
		big.NewInt(1),
		common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		[]chain.Token{{Symbol: "OUT", Address: tokenB, Decimals: 18}},
		chain.Contracts{},
	)
}

func newTestOptimizer(cache Cache, protocols ...Protocol) *Optimizer {
	registry := NewRegistry()
	for _, p := range protocols {
		registry.Register(p)
	}
	caller := multicall.New(nil, multicallTestAddr, 0, nil)
	return NewOptimizer(registry, caller, cache, nil, nil, testChainCtx(), OptimizerConfig{}, nil)
}

func viableRoute(path []common.Address, amountOut int64, gas uint64) *Route {
	fees := make([]*big.Int, len(path)-1)
	for i := range fees {
		fees[i] = big.NewInt(3000)
	}
	return &Route{
		Path:        path,
		Fees:        fees,
		AmountOut:   big.NewInt(amountOut),
		GasEstimate: gas,
		Protocol:    "fake",
		Version:     "v2",
	}
}

func TestBestRoute_PicksHigherOutput(t *testing.T) {
	fake := &fakeProtocol{name: "fake", routes: []*Route{
		viableRoute([]common.Address{tokenA, tokenB}, 1_000_000, 90_000),
		viableRoute([]common.Address{tokenA, midX, tokenB}, 2_000_000, 150_000),
	}}
	o := newTestOptimizer(NewTTLCache(0), fake)

	best, err := o.BestRoute(context.Background(), tokenA, big.NewInt(1000), tokenB)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	if best.AmountOut.Int64() != 2_000_000 {
		t.Errorf("best route AmountOut = %s, want the higher quote", best.AmountOut)
	}
}

func TestBestRoute_TieBreaksOnHopsThenGas(t *testing.T) {
	direct := viableRoute([]common.Address{tokenA, tokenB}, 1_000_000, 90_000)
	oneHop := viableRoute([]common.Address{tokenA, midX, tokenB}, 1_000_000, 90_000)
	fake := &fakeProtocol{name: "fake", routes: []*Route{oneHop, direct}}
	o := newTestOptimizer(NewTTLCache(0), fake)

	best, err := o.BestRoute(context.Background(), tokenA, big.NewInt(1000), tokenB)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	if best.Hops() != 1 {
		t.Errorf("equal scores must prefer fewer hops, got %d hops", best.Hops())
	}

	cheap := viableRoute([]common.Address{tokenA, tokenB}, 1_000_000, 80_000)
	dear := viableRoute([]common.Address{tokenA, tokenB}, 1_000_000, 90_000)
	fake2 := &fakeProtocol{name: "fake", routes: []*Route{dear, cheap}}
	o2 := newTestOptimizer(NewTTLCache(0), fake2)

	best, err = o2.BestRoute(context.Background(), tokenA, big.NewInt(1001), tokenB)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	if best.GasEstimate != 80_000 {
		t.Errorf("equal scores and hops must prefer lower gas, got %d", best.GasEstimate)
	}
}

func TestBestRoute_CacheIdempotence(t *testing.T) {
	fake := &fakeProtocol{name: "fake", routes: []*Route{
		viableRoute([]common.Address{tokenA, tokenB}, 1_000_000, 90_000),
	}}
	o := newTestOptimizer(NewTTLCache(0), fake)

	first, err := o.BestRoute(context.Background(), tokenA, big.NewInt(1000), tokenB)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	second, err := o.BestRoute(context.Background(), tokenA, big.NewInt(1000), tokenB)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}

	if fake.generateCalls.Load() != 1 {
		t.Errorf("second identical query must hit the cache, discovery ran %d times", fake.generateCalls.Load())
	}
	if first != second {
		t.Error("cached query must return the same route")
	}

	if _, err := o.BestRoute(context.Background(), tokenA, big.NewInt(2000), tokenB); err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	if fake.generateCalls.Load() != 2 {
		t.Error("different amountIn must be a distinct cache key")
	}
}

func TestBestRoute_NoRoute(t *testing.T) {
	fake := &fakeProtocol{name: "fake"}
	o := newTestOptimizer(NewTTLCache(0), fake)

	_, err := o.BestRoute(context.Background(), tokenA, big.NewInt(1000), tokenB)
	if !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
}

func TestBestRoute_RejectsDegenerateQueries(t *testing.T) {
	o := newTestOptimizer(NewTTLCache(0), &fakeProtocol{name: "fake"})

	if _, err := o.BestRoute(context.Background(), tokenA, big.NewInt(1000), tokenA); err == nil {
		t.Error("same tokenIn and tokenOut must be rejected")
	}
	if _, err := o.BestRoute(context.Background(), tokenA, big.NewInt(0), tokenB); err == nil {
		t.Error("zero amountIn must be rejected")
	}
	if _, err := o.BestRoute(context.Background(), tokenA, nil, tokenB); err == nil {
		t.Error("nil amountIn must be rejected")
	}
}

func TestBestRoute_NormalizesNativePlaceholder(t *testing.T) {
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	fake := &fakeProtocol{name: "fake", routes: []*Route{
		viableRoute([]common.Address{weth, tokenB}, 1_000_000, 90_000),
	}}
	o := newTestOptimizer(NewTTLCache(0), fake)

	best, err := o.BestRoute(context.Background(), chain.NativePlaceholder, big.NewInt(1000), tokenB)
	if err != nil {
		t.Fatalf("BestRoute: %v", err)
	}
	if best.Path[0] != weth {
		t.Errorf("placeholder must resolve to the wrapped native token, got %s", best.Path[0].Hex())
	}
}

func TestScore_HopPenaltyAndImpact(t *testing.T) {
	o := newTestOptimizer(NewTTLCache(0))
	o.cfg.HopPenaltyUSD = 3

	amountIn := big.NewInt(1000)
	short := viableRoute([]common.Address{tokenA, tokenB}, 100, 0)
	long := viableRoute([]common.Address{tokenA, midX, tokenB}, 100, 0)
	short.AmountOut = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	long.AmountOut = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))

	sShort := o.score(short, amountIn, 1, 1, nil, 18)
	sLong := o.score(long, amountIn, 1, 1, nil, 18)
	if sShort-sLong != 3 {
		t.Errorf("extra hop must cost the hop penalty, diff = %f", sShort-sLong)
	}

	// 整额兑换率劣于小额参考报价时按冲击比例扣分。
	impacted := viableRoute([]common.Address{tokenA, tokenB}, 100, 0)
	impacted.AmountOut = new(big.Int).Mul(big.NewInt(90), big.NewInt(1e18))
	impacted.RefAmountOut = new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))
	sImpacted := o.score(impacted, amountIn, 1, 1, nil, 18)
	if sImpacted >= 90 {
		t.Errorf("price impact must reduce the score below raw output value, got %f", sImpacted)
	}
}

package multicall

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dex-relayer/internal/ethrpc"
)

// DecodeKind 声明批量调用结果的解码方式。
type DecodeKind int

const (
	// KindExistence 解码为地址，零地址视为不存在。
	KindExistence DecodeKind = iota
	// KindQuote 解码为报价金额（uint256 或 uint256[] 的末项）。
	KindQuote
	// KindLiquidity 解码为流动性规模（储备对之和或单个 uint256）。
	KindLiquidity
	// KindPrice 解码为参考价格金额。
	KindPrice
)

// Request 是一次只读调用请求。失败总是按单条隔离，不影响同批其他请求。
type Request struct {
	ID       string
	Target   common.Address
	CallData []byte
	Kind     DecodeKind
}

// Result 是单条请求的解码结果。Value 与 Address 为空表示未能解码。
type Result struct {
	Success bool
	Value   *big.Int
	Address common.Address
	Raw     []byte
}

const defaultChunkSize = 50

const multicallABIJSON = `[{"inputs":[{"components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}],"name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

var multicallABI = mustParseABI(multicallABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("multicall: 解析内置 ABI 失败: " + err.Error())
	}
	return parsed
}

type aggregateCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type aggregateResult struct {
	Success    bool
	ReturnData []byte
}

// Caller 把大量只读调用聚合为少量网络往返。
type Caller struct {
	transport ethrpc.CallTransport
	contract  common.Address
	chunkSize int
	logger    *zap.Logger
}

// New 创建批量调用器。chunkSize <= 0 时使用默认分片大小。
func New(transport ethrpc.CallTransport, contract common.Address, chunkSize int, logger *zap.Logger) *Caller {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{
		transport: transport,
		contract:  contract,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Execute 执行全部请求并返回按 ID 索引的结果表。
// 聚合调用整体失败时，对应分片退化为逐条调用，其余分片不受影响。
func (c *Caller) Execute(ctx context.Context, reqs []Request) (map[string]*Result, error) {
	results := make(map[string]*Result, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)

	for start := 0; start < len(reqs); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(reqs) {
			end = len(reqs)
		}
		chunk := reqs[start:end]

		group.Go(func() error {
			decoded := c.executeChunk(groupCtx, chunk)
			mu.Lock()
			for id, res := range decoded {
				results[id] = res
			}
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Caller) executeChunk(ctx context.Context, chunk []Request) map[string]*Result {
	calls := make([]aggregateCall, len(chunk))
	for i, req := range chunk {
		calls[i] = aggregateCall{Target: req.Target, AllowFailure: true, CallData: req.CallData}
	}

	callData, err := multicallABI.Pack("aggregate3", calls)
	if err != nil {
		c.logger.Warn("聚合调用编码失败，退化为逐条调用", zap.Error(err))
		return c.fallback(ctx, chunk)
	}

	raw, err := c.transport.CallContract(ctx, c.contract, callData)
	if err != nil {
		c.logger.Warn("聚合调用失败，退化为逐条调用",
			zap.Int("chunk_size", len(chunk)),
			zap.Error(err),
		)
		return c.fallback(ctx, chunk)
	}

	unpacked, err := multicallABI.Unpack("aggregate3", raw)
	if err != nil || len(unpacked) == 0 {
		c.logger.Warn("聚合调用解码失败，退化为逐条调用", zap.Error(err))
		return c.fallback(ctx, chunk)
	}

	inner := *abi.ConvertType(unpacked[0], new([]aggregateResult)).(*[]aggregateResult)
	if len(inner) != len(chunk) {
		c.logger.Warn("聚合调用返回数量不符，退化为逐条调用",
			zap.Int("want", len(chunk)),
			zap.Int("got", len(inner)),
		)
		return c.fallback(ctx, chunk)
	}

	decoded := make(map[string]*Result, len(chunk))
	for i, req := range chunk {
		if !inner[i].Success {
			decoded[req.ID] = &Result{Success: false}
			continue
		}
		decoded[req.ID] = decodeResult(req.Kind, inner[i].ReturnData)
	}
	return decoded
}

// fallback 逐条发起请求。单条失败只把该条记为未回答。
func (c *Caller) fallback(ctx context.Context, chunk []Request) map[string]*Result {
	decoded := make(map[string]*Result, len(chunk))
	for _, req := range chunk {
		raw, err := c.transport.CallContract(ctx, req.Target, req.CallData)
		if err != nil {
			decoded[req.ID] = &Result{Success: false}
			continue
		}
		decoded[req.ID] = decodeResult(req.Kind, raw)
	}
	return decoded
}

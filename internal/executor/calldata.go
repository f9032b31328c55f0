package executor

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dex-relayer/internal/order"
)

// 执行合约会重新校验两份签名、检查 nonce 位图、在链上复核全部
// 执行约束后再划转并兑换。链下校验只是为了快速失败省 gas，
// 链上才是最终权威。
const executorABIJSON = `[{"inputs":[
{"components":[
 {"name":"maker","type":"address"},
 {"name":"tokenIn","type":"address"},
 {"name":"tokenOut","type":"address"},
 {"name":"amountIn","type":"uint256"},
 {"name":"amountOutMin","type":"uint256"},
 {"name":"maxSlippageBps","type":"uint256"},
 {"name":"allowedRouters","type":"address[]"},
 {"name":"expiry","type":"uint256"},
 {"name":"nonce","type":"uint256"}],"name":"order","type":"tuple"},
{"components":[
 {"name":"token","type":"address"},
 {"name":"amount","type":"uint256"},
 {"name":"nonce","type":"uint256"},
 {"name":"deadline","type":"uint256"},
 {"name":"spender","type":"address"}],"name":"authorization","type":"tuple"},
{"name":"orderSig","type":"bytes"},
{"name":"authSig","type":"bytes"},
{"components":[
 {"name":"router","type":"address"},
 {"name":"path","type":"address[]"},
 {"name":"fees","type":"uint24[]"},
 {"name":"amountIn","type":"uint256"},
 {"name":"amountOutMin","type":"uint256"},
 {"name":"deadline","type":"uint256"}],"name":"params","type":"tuple"}],
"name":"executeOrder","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var executorABI = mustParseABI(executorABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("executor: 解析内置 ABI 失败: " + err.Error())
	}
	return parsed
}

type orderTuple struct {
	Maker          common.Address
	TokenIn        common.Address
	TokenOut       common.Address
	AmountIn       *big.Int
	AmountOutMin   *big.Int
	MaxSlippageBps *big.Int
	AllowedRouters []common.Address
	Expiry         *big.Int
	Nonce          *big.Int
}

type authorizationTuple struct {
	Token    common.Address
	Amount   *big.Int
	Nonce    *big.Int
	Deadline *big.Int
	Spender  common.Address
}

type paramsTuple struct {
	Router       common.Address
	Path         []common.Address
	Fees         []*big.Int
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Deadline     *big.Int
}

// packExecuteOrder 组装链上校验合约期望的完整调用载荷：
// 订单、划转授权、两份签名与执行计划。
func packExecuteOrder(so *order.SignedOrder, p *order.ExecutionParams) ([]byte, error) {
	routers := so.Order.AllowedRouters
	if routers == nil {
		routers = []common.Address{}
	}

	return executorABI.Pack("executeOrder",
		orderTuple{
			Maker:          so.Order.Maker,
			TokenIn:        so.Order.TokenIn,
			TokenOut:       so.Order.TokenOut,
			AmountIn:       so.Order.AmountIn,
			AmountOutMin:   so.Order.AmountOutMin,
			MaxSlippageBps: big.NewInt(so.Order.MaxSlippageBps),
			AllowedRouters: routers,
			Expiry:         big.NewInt(so.Order.Expiry),
			Nonce:          so.Order.Nonce,
		},
		authorizationTuple{
			Token:    so.Authorization.Token,
			Amount:   so.Authorization.Amount,
			Nonce:    so.Authorization.Nonce,
			Deadline: big.NewInt(so.Authorization.Deadline),
			Spender:  so.Authorization.Spender,
		},
		so.OrderSig,
		so.AuthSig,
		paramsTuple{
			Router:       p.Router,
			Path:         p.Path,
			Fees:         p.Fees,
			AmountIn:     p.AmountIn,
			AmountOutMin: p.AmountOutMin,
			Deadline:     big.NewInt(p.Deadline),
		},
	)
}

package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxSlippageBps 是滑点上限的定义域上界（100%）。
const MaxSlippageBps = 10000

// HighSlippageWarnBps 之上的滑点容忍度会触发告警但不阻塞。
const HighSlippageWarnBps = 500

// LimitOrder 是挂单者一次性签署的限价单条款，签名后不可变。
type LimitOrder struct {
	Maker          common.Address
	TokenIn        common.Address
	TokenOut       common.Address
	AmountIn       *big.Int
	AmountOutMin   *big.Int
	MaxSlippageBps int64
	AllowedRouters []common.Address
	Expiry         int64
	Nonce          *big.Int
}

// RouterAllowed 判断路由地址是否被允许。空白名单表示不限制。
func (o *LimitOrder) RouterAllowed(router common.Address) bool {
	if len(o.AllowedRouters) == 0 {
		return true
	}
	for _, allowed := range o.AllowedRouters {
		if allowed == router {
			return true
		}
	}
	return false
}

// TransferAuthorization 授权执行合约从挂单者处划转代币。
// Nonce 与订单 nonce 属于相互独立的编号空间。
type TransferAuthorization struct {
	Token    common.Address
	Amount   *big.Int
	Nonce    *big.Int
	Deadline int64
	Spender  common.Address
}

// SignedOrder 把订单、划转授权与两份域隔离的签名捆绑在一起。
type SignedOrder struct {
	Order         LimitOrder
	OrderSig      []byte
	Authorization TransferAuthorization
	AuthSig       []byte
}

// ExecutionParams 是执行方在执行时刻选定的具体计划，从不持久化。
type ExecutionParams struct {
	Router       common.Address
	Path         []common.Address
	Fees         []*big.Int
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Deadline     int64
}

// ValidationResult 汇总一次校验的全部结论。
// Errors 收集所有失败原因而非短路，Warnings 永不阻塞执行。
type ValidationResult struct {
	Valid       bool
	Errors      []string
	Warnings    []string
	SlippageBps int64
}

func (r *ValidationResult) fail(reason string) {
	r.Valid = false
	r.Errors = append(r.Errors, reason)
}

func (r *ValidationResult) warn(reason string) {
	r.Warnings = append(r.Warnings, reason)
}

package order

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrStructural 表示订单自身不合法，任何网络调用之前即拒绝。
	ErrStructural = errors.New("order: 订单结构不合法")
	// ErrConstraint 表示执行计划越过了订单约束，永远阻塞提交。
	ErrConstraint = errors.New("order: 执行计划违反订单约束")
)

// LongExpiryWarn 之外的过期时间会触发告警。
const LongExpiryWarn = 30 * 24 * time.Hour

// ValidateStructure 校验订单的内部一致性，不需要任何执行上下文。
// 所有失败原因都会被收集，不短路。
func ValidateStructure(o *LimitOrder, now time.Time) ValidationResult {
	res := ValidationResult{Valid: true}

	if o.Maker == (common.Address{}) {
		res.fail("maker 地址为空")
	}
	if o.TokenIn == (common.Address{}) {
		res.fail("tokenIn 地址为空")
	}
	if o.TokenOut == (common.Address{}) {
		res.fail("tokenOut 地址为空")
	}
	if o.TokenIn == o.TokenOut && o.TokenIn != (common.Address{}) {
		res.fail("tokenIn 与 tokenOut 不能相同")
	}
	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 {
		res.fail("amountIn 必须为正")
	}
	if o.AmountOutMin == nil || o.AmountOutMin.Sign() <= 0 {
		res.fail("amountOutMin 必须为正")
	}
	if o.MaxSlippageBps < 0 || o.MaxSlippageBps > MaxSlippageBps {
		res.fail(fmt.Sprintf("maxSlippageBps %d 超出[0,10000]", o.MaxSlippageBps))
	} else if o.MaxSlippageBps > HighSlippageWarnBps {
		res.warn(fmt.Sprintf("滑点容忍度 %dbps 偏高", o.MaxSlippageBps))
	}
	for i, router := range o.AllowedRouters {
		if router == (common.Address{}) {
			res.fail(fmt.Sprintf("allowedRouters[%d] 是零地址", i))
		}
	}
	if o.Expiry <= now.Unix() {
		res.fail("订单已过期或过期时间不在未来")
	} else if time.Unix(o.Expiry, 0).Sub(now) > LongExpiryWarn {
		res.warn("过期时间超过30天")
	}
	if o.Nonce == nil || o.Nonce.Sign() < 0 {
		res.fail("nonce 必须为非负整数")
	}

	return res
}

// ProportionalFloor 计算部分成交的最低可接受输出：
// order.AmountOutMin · amountIn / order.AmountIn，向上取整。
// 部分成交的单位兑换率不得劣于整单要求，这是部分成交安全性的根基。
func ProportionalFloor(o *LimitOrder, amountIn *big.Int) *big.Int {
	num := new(big.Int).Mul(o.AmountOutMin, amountIn)
	num.Add(num, new(big.Int).Sub(o.AmountIn, big.NewInt(1)))
	return num.Div(num, o.AmountIn)
}

// ValidateExecution 校验一份执行计划是否停留在订单约束之内。
// 任何一条失败即整体无效；所有原因都会被收集。
func ValidateExecution(o *LimitOrder, p *ExecutionParams, now time.Time) ValidationResult {
	res := ValidationResult{Valid: true}

	if !o.RouterAllowed(p.Router) {
		res.fail(fmt.Sprintf("路由 %s 不在订单白名单内", p.Router.Hex()))
	}

	if len(p.Path) < 2 {
		res.fail("路径至少包含两个代币")
	} else {
		if p.Path[0] != o.TokenIn {
			res.fail("路径起点不是订单的 tokenIn")
		}
		if p.Path[len(p.Path)-1] != o.TokenOut {
			res.fail("路径终点不是订单的 tokenOut")
		}
	}
	if len(p.Path) >= 2 && len(p.Fees) != len(p.Path)-1 {
		res.fail("fee 档位数量与跳数不符")
	}
	if len(p.Path) > 3 {
		res.warn(fmt.Sprintf("路径包含 %d 跳，gas 开销偏高", len(p.Path)-1))
	}

	validAmounts := true
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		res.fail("amountIn 必须为正")
		validAmounts = false
	} else if o.AmountIn != nil && p.AmountIn.Cmp(o.AmountIn) > 0 {
		res.fail("amountIn 超过订单总量")
	}
	if p.AmountOutMin == nil || p.AmountOutMin.Sign() <= 0 {
		res.fail("amountOutMin 必须为正")
		validAmounts = false
	}

	if validAmounts && o.AmountIn != nil && o.AmountIn.Sign() > 0 && o.AmountOutMin != nil {
		floor := ProportionalFloor(o, p.AmountIn)
		if p.AmountOutMin.Cmp(floor) < 0 {
			res.fail(fmt.Sprintf("amountOutMin %s 低于按比例下限 %s", p.AmountOutMin, floor))
		}
		res.SlippageBps = shortfallBps(floor, p.AmountOutMin)
		if res.SlippageBps > o.MaxSlippageBps {
			res.fail(fmt.Sprintf("预估滑点 %dbps 超过上限 %dbps", res.SlippageBps, o.MaxSlippageBps))
		}
	}

	if p.Deadline <= now.Unix() {
		res.fail("执行期限不在未来")
	}
	if p.Deadline > o.Expiry {
		res.fail("执行期限晚于订单过期时间")
	}

	return res
}

// shortfallBps 计算实际下限相对订单按比例预期输出的缺口（基点）。
func shortfallBps(expected, actual *big.Int) int64 {
	if expected.Sign() <= 0 || actual.Cmp(expected) >= 0 {
		return 0
	}
	diff := new(big.Int).Sub(expected, actual)
	diff.Mul(diff, big.NewInt(MaxSlippageBps))
	return diff.Div(diff, expected).Int64()
}

// SignatureVerifier 复核 SignedOrder 中两份域隔离签名，由 sign 包实现。
type SignatureVerifier interface {
	VerifyOrderSignature(o *LimitOrder, sig []byte) error
	VerifyAuthorizationSignature(maker common.Address, a *TransferAuthorization, sig []byte) error
}

// ValidateSigned 给出签名订单是否可执行的完整结论：
// 结构校验通过、两份签名均验证、订单未过期、授权与订单一致。
func ValidateSigned(so *SignedOrder, verifier SignatureVerifier, now time.Time) ValidationResult {
	res := ValidateStructure(&so.Order, now)

	if err := verifier.VerifyOrderSignature(&so.Order, so.OrderSig); err != nil {
		res.fail(fmt.Sprintf("订单签名无效: %v", err))
	}
	if err := verifier.VerifyAuthorizationSignature(so.Order.Maker, &so.Authorization, so.AuthSig); err != nil {
		res.fail(fmt.Sprintf("划转授权签名无效: %v", err))
	}

	if so.Authorization.Token != so.Order.TokenIn {
		res.fail("划转授权的代币与订单 tokenIn 不一致")
	}
	if so.Authorization.Amount == nil || so.Order.AmountIn == nil ||
		so.Authorization.Amount.Cmp(so.Order.AmountIn) < 0 {
		res.fail("划转授权额度低于订单输入量")
	}
	if so.Authorization.Deadline <= now.Unix() {
		res.fail("划转授权已过期")
	}

	return res
}

package ethrpc

import (
	"context"
	"errors"
	"net"

	"github.com/ethereum/go-ethereum/rpc"
)

// IsRetryable 判断一次传输层错误是否值得调用方稍后重试。
// 核心本身不重试，分类只供上层决策使用。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	return false
}

package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("eth_call: %w", context.DeadlineExceeded), true},
		{"rate limited", rpc.HTTPError{StatusCode: 429}, true},
		{"server error", rpc.HTTPError{StatusCode: 503}, true},
		{"client error", rpc.HTTPError{StatusCode: 400}, false},
		{"revert", errors.New("execution reverted"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

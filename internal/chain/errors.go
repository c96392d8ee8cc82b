package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a failure so callers can pick a recovery policy without
// string-matching provider quirks themselves.
type Kind int

const (
	// KindTransient covers socket drops, timeouts and other errors worth a
	// plain retry with backoff.
	KindTransient Kind = iota
	// KindRateLimited is a provider throttle; retried with backoff and
	// surfaced as a warning.
	KindRateLimited
	// KindRangeTooLarge means the provider refused the getLogs span. Only
	// recoverable by bisecting the range.
	KindRangeTooLarge
	// KindDecode marks a log that failed ABI decoding; the log is skipped.
	KindDecode
	// KindRevert is an eth_call revert; callers substitute a default value.
	KindRevert
	// KindStoreConflict is a serialization failure from the store; the
	// transaction is retried once.
	KindStoreConflict
	// KindFatal stops the affected monitor.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindRangeTooLarge:
		return "range_too_large"
	case KindDecode:
		return "decode"
	case KindRevert:
		return "revert"
	case KindStoreConflict:
		return "store_conflict"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error tags an underlying failure with its classified kind.
type Error struct {
	K   Kind
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.K, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// WrapKind tags err with an explicit kind.
func WrapKind(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{K: k, Err: err}
}

// KindOf extracts the kind from a wrapped error, classifying raw errors on
// the fly.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.K
	}
	return Classify(err)
}

func IsRangeTooLarge(err error) bool { return KindOf(err) == KindRangeTooLarge }
func IsRateLimited(err error) bool   { return KindOf(err) == KindRateLimited }
func IsRevert(err error) bool        { return KindOf(err) == KindRevert }
func IsFatal(err error) bool         { return KindOf(err) == KindFatal }

// IsRetryable reports whether the error should be retried in place with
// backoff, as opposed to bisected, skipped or surfaced.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindRateLimited
}

// Provider phrasings for oversized eth_getLogs spans. Collected from the
// major hosted endpoints; matched case-insensitively.
var rangeTooLargeMarkers = []string{
	"query returned more than",
	"block range is too wide",
	"exceed maximum block range",
	"exceeds the range allowed",
	"logs are limited to",
	"eth_getlogs is limited",
	"query timeout exceeded",
	"range is too large",
	"response size exceeded",
	"too many blocks",
	"max results limit",
}

var rateLimitMarkers = []string{
	"too many requests",
	"rate limit",
	"request rate exceeded",
	"429",
	"compute units",
	"capacity exceeded",
	"daily request count exceeded",
}

var revertMarkers = []string{
	"execution reverted",
	"vm execution error",
	"invalid opcode",
	"out of gas",
}

var fatalMarkers = []string{
	"method not found",
	"the method does not exist",
	"not supported",
	"unauthorized",
	"invalid api key",
	"project id required",
}

// Classify maps a raw RPC error onto a Kind. Unknown errors default to
// transient so a flaky provider message never wedges a monitor.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.K
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return KindFatal
		}
	}
	for _, m := range revertMarkers {
		if strings.Contains(msg, m) {
			return KindRevert
		}
	}
	for _, m := range rangeTooLargeMarkers {
		if strings.Contains(msg, m) {
			return KindRangeTooLarge
		}
	}
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return KindRateLimited
		}
	}

	// JSON-RPC error codes: -32005 is the de facto "limit exceeded",
	// 3 is the standard revert data code.
	type coded interface{ ErrorCode() int }
	var rpcErr coded
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32005:
			return KindRateLimited
		case 3:
			return KindRevert
		case -32601, -32602:
			return KindFatal
		}
	}
	return KindTransient
}

// classified wraps err with its sniffed kind, leaving already-tagged errors
// untouched.
func classified(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{K: Classify(err), Err: err}
}

package chain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

const unknownReason = "Unknown error"

// RevertError reports a transaction that was mined with a failed status.
type RevertError struct {
	Hash   common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// Reason returns the most specific description of err: a decoded
// Error(string) revert, then raw provider error data, then the message.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Error()
	}

	if reason := dataReason(err); reason != "" {
		return reason
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return unknownReason
}

// revertReason extracts the reason of a replayed call. A bare
// "execution reverted" yields "".
func revertReason(err error) string {
	if reason := dataReason(err); reason != "" {
		return reason
	}

	msg := strings.TrimSpace(err.Error())
	if idx := strings.Index(msg, "reverted:"); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("reverted:"):])
	}
	if strings.HasSuffix(msg, "execution reverted") {
		return ""
	}
	return msg
}

func dataReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}

	raw, ok := dataErr.ErrorData().(string)
	if !ok || raw == "" {
		return ""
	}

	if decoded, decErr := hexutil.Decode(raw); decErr == nil {
		if reason, unpackErr := abi.UnpackRevert(decoded); unpackErr == nil && reason != "" {
			return reason
		}
	}
	return raw
}

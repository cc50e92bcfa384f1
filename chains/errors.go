package chains

import (
	"errors"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"

	"github.com/paylinc/chainverify/types"
)

// Unavailable wraps a provider failure as CHAIN_UNAVAILABLE. Callers
// must treat it as "unknown, retry", never as proof of invalidity.
func Unavailable(chain, op string, err error) error {
	return &types.Error{
		Code:    types.ErrChainUnavailable,
		Message: fmt.Sprintf("chain %s unavailable during %s: %v", chain, op, err),
	}
}

// IsNotFound reports whether a provider error means "no such object"
// (e.g. an unknown transaction hash) as opposed to a transport failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

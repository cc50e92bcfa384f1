// Package chains provides per-chain JSON-RPC access. One long-lived
// connection is kept per chain identifier for the process lifetime;
// the chain set is small and fixed, so this is a cache by key, not a
// pool with eviction.
package chains

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/paylinc/chainverify/types"
)

// Reader is the subset of an Ethereum JSON-RPC client the engine needs.
// *ethclient.Client satisfies it; tests inject fakes.
type Reader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ Reader = (*ethclient.Client)(nil)

// Source resolves a chain identifier to its reader and payment token.
type Source interface {
	Reader(chain string) (Reader, error)
	Token(chain string) (common.Address, int32, error)
}

// Registry is the production Source: it dials each configured chain on
// first use and caches the connection forever.
type Registry struct {
	mu      sync.Mutex
	cfgs    map[string]types.ChainConfig
	readers map[string]Reader
	dial    func(rpcURL string) (Reader, error)
}

func NewRegistry(cfgs map[string]types.ChainConfig) *Registry {
	return &Registry{
		cfgs:    cfgs,
		readers: make(map[string]Reader, len(cfgs)),
		dial:    dialEthereum,
	}
}

func dialEthereum(rpcURL string) (Reader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Reader returns the cached connection for chain, dialing on first use.
// Dialing happens under the lock, so concurrent first callers get the
// same connection object.
func (r *Registry) Reader(chain string) (Reader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reader, ok := r.readers[chain]; ok {
		return reader, nil
	}

	cfg, ok := r.cfgs[chain]
	if !ok {
		return nil, unsupported(chain)
	}

	reader, err := r.dial(cfg.RPCUrl)
	if err != nil {
		return nil, Unavailable(chain, "dial", err)
	}
	r.readers[chain] = reader
	return reader, nil
}

// Token returns the payment token contract and its decimal count for chain.
func (r *Registry) Token(chain string) (common.Address, int32, error) {
	r.mu.Lock()
	cfg, ok := r.cfgs[chain]
	r.mu.Unlock()
	if !ok {
		return common.Address{}, 0, unsupported(chain)
	}
	return common.HexToAddress(cfg.TokenAddress), cfg.TokenDecimals, nil
}

// Chains returns the configured chain identifiers.
func (r *Registry) Chains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	chains := make([]string, 0, len(r.cfgs))
	for chain := range r.cfgs {
		chains = append(chains, chain)
	}
	return chains
}

// Close tears down every open connection. Called only at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chain, reader := range r.readers {
		if closer, ok := reader.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(r.readers, chain)
	}
}

func unsupported(chain string) error {
	return &types.Error{
		Code:    types.ErrUnsupportedChain,
		Message: fmt.Sprintf("no provider configured for chain %q", chain),
	}
}

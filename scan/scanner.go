// Package scan queries a block range for token transfers addressed to a
// recipient. It feeds reconciliation sweeps; per-event timestamps are
// left unresolved to avoid one block fetch per transfer.
package scan

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/paylinc/chainverify/chains"
	"github.com/paylinc/chainverify/logger"
	"github.com/paylinc/chainverify/token"
	"github.com/paylinc/chainverify/types"
)

type Scanner struct {
	chains   chains.Source
	lookback uint64
	timeout  time.Duration
	log      logger.Logger
}

func NewScanner(src chains.Source, lookbackBlocks uint64, timeout time.Duration, log logger.Logger) *Scanner {
	return &Scanner{
		chains:   src,
		lookback: lookbackBlocks,
		timeout:  timeout,
		log:      log,
	}
}

// ScanTransfersTo returns every Transfer of the chain's payment token
// addressed to recipient within [fromBlock, toBlock]. Nil bounds default
// to the current head and head minus the look-back window, which bounds
// scan cost on busy chains. An empty result is success, not an error.
func (s *Scanner) ScanTransfersTo(ctx context.Context, chain, recipient string, fromBlock, toBlock *uint64) ([]types.TransferFact, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reader, err := s.chains.Reader(chain)
	if err != nil {
		return nil, err
	}
	tokenAddr, _, err := s.chains.Token(chain)
	if err != nil {
		return nil, err
	}

	var to uint64
	if toBlock != nil {
		to = *toBlock
	} else {
		head, err := reader.BlockNumber(ctx)
		if err != nil {
			return nil, chains.Unavailable(chain, "head fetch", err)
		}
		to = head
	}

	var from uint64
	switch {
	case fromBlock != nil:
		from = *fromBlock
	case to > s.lookback:
		from = to - s.lookback
	default:
		from = 0
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{tokenAddr},
		Topics: [][]common.Hash{
			{token.TransferTopic()},
			nil, // any sender
			{addressTopic(recipient)},
		},
	}

	logs, err := reader.FilterLogs(ctx, query)
	if err != nil {
		return nil, chains.Unavailable(chain, "log query", err)
	}

	facts := make([]types.TransferFact, 0, len(logs))
	for i := range logs {
		fact, ok := token.Decode(&logs[i])
		if !ok {
			// The filter already scoped to the transfer topic, so this
			// only happens for malformed logs. Skip, don't fail the scan.
			s.log.Warn("skipping undecodable log in scan", map[string]any{
				"chain": chain, "tx": logs[i].TxHash.Hex(),
			})
			continue
		}
		facts = append(facts, fact)
	}

	s.log.Debug("scan complete", map[string]any{
		"chain": chain, "from": from, "to": to, "transfers": len(facts),
	})
	return facts, nil
}

// addressTopic left-pads an address to the 32-byte topic form used for
// indexed event parameters.
func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

package scan

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/paylinc/chainverify/chains"
	"github.com/paylinc/chainverify/logger"
	"github.com/paylinc/chainverify/token"
	"github.com/paylinc/chainverify/types"
)

var (
	usdc    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	payer   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	creator = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeReader struct {
	head      uint64
	headErr   error
	logs      []ethtypes.Log
	filterErr error
	lastQuery ethereum.FilterQuery
}

func (f *fakeReader) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeReader) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	return nil, ethereum.NotFound
}

func (f *fakeReader) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.lastQuery = q
	return f.logs, f.filterErr
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	return f.head, f.headErr
}

type fakeSource struct {
	reader chains.Reader
}

func (f *fakeSource) Reader(string) (chains.Reader, error) {
	return f.reader, nil
}

func (f *fakeSource) Token(string) (common.Address, int32, error) {
	return usdc, 6, nil
}

func newScanner(reader *fakeReader, lookback uint64) *Scanner {
	return NewScanner(&fakeSource{reader: reader}, lookback, 5*time.Second, logger.NoopLogger{})
}

func transferLog(to common.Address, amount *big.Int, block uint64) ethtypes.Log {
	return ethtypes.Log{
		Address: usdc,
		Topics: []common.Hash{
			token.TransferTopic(),
			common.BytesToHash(payer.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(amount.Bytes(), 32),
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: block,
	}
}

func uptr(v uint64) *uint64 { return &v }

func TestScanDefaultsToLookbackWindow(t *testing.T) {
	reader := &fakeReader{head: 50_000}
	s := newScanner(reader, 1_000)

	if _, err := s.ScanTransfersTo(context.Background(), "base", creator.Hex(), nil, nil); err != nil {
		t.Fatalf("scan: %v", err)
	}

	q := reader.lastQuery
	if q.FromBlock.Uint64() != 49_000 || q.ToBlock.Uint64() != 50_000 {
		t.Errorf("range = [%s, %s], want [49000, 50000]", q.FromBlock, q.ToBlock)
	}
	if len(q.Addresses) != 1 || q.Addresses[0] != usdc {
		t.Errorf("addresses = %v, want token contract only", q.Addresses)
	}
	if len(q.Topics) != 3 || q.Topics[0][0] != token.TransferTopic() {
		t.Fatalf("topics = %v", q.Topics)
	}
	if q.Topics[1] != nil {
		t.Error("sender topic should be unconstrained")
	}
	if q.Topics[2][0] != common.BytesToHash(creator.Bytes()) {
		t.Errorf("recipient topic = %s", q.Topics[2][0])
	}
}

func TestScanExplicitBoundsOverrideDefaults(t *testing.T) {
	reader := &fakeReader{head: 50_000}
	s := newScanner(reader, 1_000)

	if _, err := s.ScanTransfersTo(context.Background(), "base", creator.Hex(), uptr(100), uptr(200)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	q := reader.lastQuery
	if q.FromBlock.Uint64() != 100 || q.ToBlock.Uint64() != 200 {
		t.Errorf("range = [%s, %s], want [100, 200]", q.FromBlock, q.ToBlock)
	}
}

func TestScanClampsLookbackAtGenesis(t *testing.T) {
	reader := &fakeReader{head: 500}
	s := newScanner(reader, 1_000)

	if _, err := s.ScanTransfersTo(context.Background(), "base", creator.Hex(), nil, nil); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got := reader.lastQuery.FromBlock.Uint64(); got != 0 {
		t.Errorf("fromBlock = %d, want 0", got)
	}
}

func TestScanDecodesTransfers(t *testing.T) {
	reader := &fakeReader{
		head: 1_000,
		logs: []ethtypes.Log{
			transferLog(creator, big.NewInt(5_000_000), 900),
			transferLog(creator, big.NewInt(7_300_000), 950),
		},
	}
	s := newScanner(reader, 1_000)

	facts, err := s.ScanTransfersTo(context.Background(), "base", creator.Hex(), nil, nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(facts))
	}
	if facts[0].Amount.Int64() != 5_000_000 || facts[1].Amount.Int64() != 7_300_000 {
		t.Errorf("amounts = %s, %s", facts[0].Amount, facts[1].Amount)
	}
	if facts[0].BlockNumber != 900 {
		t.Errorf("block = %d, want 900", facts[0].BlockNumber)
	}
	// Timestamps are resolved lazily downstream, not during the scan.
	if facts[0].Timestamp != 0 {
		t.Errorf("timestamp = %d, want 0", facts[0].Timestamp)
	}
}

// Zero transfers is a successful scan, not an error.
func TestScanEmptyResultIsSuccess(t *testing.T) {
	s := newScanner(&fakeReader{head: 1_000}, 1_000)

	facts, err := s.ScanTransfersTo(context.Background(), "base", creator.Hex(), nil, nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("got %d facts, want 0", len(facts))
	}
}

func TestScanPropagatesChainFailures(t *testing.T) {
	t.Run("head fetch", func(t *testing.T) {
		s := newScanner(&fakeReader{headErr: errors.New("rpc timeout")}, 1_000)
		_, err := s.ScanTransfersTo(context.Background(), "base", creator.Hex(), nil, nil)
		if !types.IsChainUnavailable(err) {
			t.Errorf("error = %v, want CHAIN_UNAVAILABLE", err)
		}
	})

	t.Run("log query", func(t *testing.T) {
		s := newScanner(&fakeReader{head: 1_000, filterErr: errors.New("rate limited")}, 1_000)
		_, err := s.ScanTransfersTo(context.Background(), "base", creator.Hex(), nil, nil)
		if !types.IsChainUnavailable(err) {
			t.Errorf("error = %v, want CHAIN_UNAVAILABLE", err)
		}
	})
}

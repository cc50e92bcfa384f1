package token

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/paylinc/chainverify/types"
)

// Minimal ERC-20 event ABI; only the Transfer event is needed.
const erc20EventsABI = `[{"anonymous":false,"inputs":[
  {"indexed":true,"name":"from","type":"address"},
  {"indexed":true,"name":"to","type":"address"},
  {"indexed":false,"name":"value","type":"uint256"}],
  "name":"Transfer","type":"event"}]`

var (
	transferABI   abi.ABI
	transferTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20EventsABI))
	if err != nil {
		panic("token: bad erc20 event abi: " + err.Error())
	}
	transferABI = parsed
	transferTopic = parsed.Events["Transfer"].ID
}

// TransferTopic returns the topic0 hash of Transfer(address,address,uint256).
func TransferTopic() common.Hash {
	return transferTopic
}

// Decode attempts to decode one log as an ERC-20 Transfer. The second
// return value is false for anything that is not a well-formed Transfer
// event: wrong topic, wrong topic count, wrong data shape. A false here
// is "not a transfer", never an error, because transactions legitimately
// carry unrelated events from other contracts.
func Decode(lg *ethtypes.Log) (types.TransferFact, bool) {
	if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic || len(lg.Data) != 32 {
		return types.TransferFact{}, false
	}

	vals, err := transferABI.Unpack("Transfer", lg.Data)
	if err != nil || len(vals) != 1 {
		return types.TransferFact{}, false
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return types.TransferFact{}, false
	}

	return types.TransferFact{
		TxHash:      lg.TxHash.Hex(),
		Sender:      common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		Recipient:   common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Amount:      amount,
		BlockNumber: lg.BlockNumber,
	}, true
}

// DecodeTransfers extracts every Transfer emitted by tokenAddr from a
// receipt's logs. Zero facts is a valid outcome, distinct from a fetch
// failure upstream.
func DecodeTransfers(logs []*ethtypes.Log, tokenAddr common.Address) []types.TransferFact {
	var facts []types.TransferFact
	for _, lg := range logs {
		if lg == nil || lg.Address != tokenAddr {
			continue
		}
		if fact, ok := Decode(lg); ok {
			facts = append(facts, fact)
		}
	}
	return facts
}

package chain

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"transferScope/internal/model"
)

const erc20TransferABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  }
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

// ERC20ABI returns the parsed ABI holding the Transfer event.
func ERC20ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20TransferABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// TransferTopic is the topic0 of Transfer(address,address,uint256).
func TransferTopic() (common.Hash, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return common.Hash{}, err
	}
	return parsed.Events["Transfer"].ID, nil
}

// DecodeTransfer converts an ERC20 Transfer log into a RawEvent. ERC721
// transfers share topic0 but carry the token id as a fourth topic; they are
// rejected here.
func DecodeTransfer(log types.Log) (model.RawEvent, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return model.RawEvent{}, err
	}
	transfer := parsed.Events["Transfer"]

	if len(log.Topics) != 3 {
		return model.RawEvent{}, fmt.Errorf("unexpected topic count %d", len(log.Topics))
	}
	if log.Topics[0] != transfer.ID {
		return model.RawEvent{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	values, err := transfer.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.RawEvent{}, fmt.Errorf("unpack transfer data: %w", err)
	}
	if len(values) != 1 {
		return model.RawEvent{}, fmt.Errorf("unexpected transfer data length %d", len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return model.RawEvent{}, fmt.Errorf("transfer value has type %T", values[0])
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return model.RawEvent{}, fmt.Errorf("transfer value overflows uint256")
	}

	return model.RawEvent{
		From:        common.BytesToAddress(log.Topics[1].Bytes()),
		To:          common.BytesToAddress(log.Topics[2].Bytes()),
		Value:       value,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    uint32(log.Index),
	}, nil
}

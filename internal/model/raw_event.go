package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RawEvent is a decoded ERC20 Transfer log as delivered by the chain.
type RawEvent struct {
	From        common.Address
	To          common.Address
	Value       *uint256.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint32
}

package indexer

import (
	"context"

	"github.com/ethereum/go-ethereum/event"

	"transferScope/internal/model"
)

// Source supplies Transfer events by block range.
type Source interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	// QueryRange returns the events of [from, to] in block order, then log order.
	QueryRange(ctx context.Context, from, to uint64) ([]model.RawEvent, error)
}

// LiveSource additionally streams new events as they are produced.
type LiveSource interface {
	Source
	// Subscribe delivers events to out until the subscription is unsubscribed
	// or fails; failures are reported on the subscription's Err channel.
	Subscribe(ctx context.Context, out chan<- model.RawEvent) (event.Subscription, error)
	Reconnect(ctx context.Context) error
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Subscribe streams decoded events from both contracts until ctx is cancelled.
// Every (re)connection first subscribes, then replays logs from the last block
// seen (or fromBlock) up to the head, so nothing emitted while disconnected is
// lost. Replayed logs may repeat already delivered ones.
func (c *Client) Subscribe(ctx context.Context, fromBlock uint64) <-chan domain.ChainEvent {
	out := make(chan domain.ChainEvent, c.bufferSize)
	logs := make(chan types.Log, c.bufferSize)

	var lastSeen atomic.Uint64
	lastSeen.Store(fromBlock)

	sub := event.ResubscribeErr(c.maxBackoff, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if lastErr != nil {
			c.logger.Warn("Log subscription dropped, reconnecting",
				slog.String("error", lastErr.Error()),
				slog.Uint64("resume_block", lastSeen.Load()),
			)
		}
		return c.subscribeAndReplay(ctx, lastSeen.Load(), logs)
	})

	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Log subscription stopped")
				return

			case err := <-sub.Err():
				if err != nil {
					c.logger.Error("Log subscription failed permanently", slog.String("error", err.Error()))
				}
				return

			case lg := <-logs:
				ev, ok := c.decodeLog(lg)
				if !ok {
					continue
				}
				if lg.BlockNumber > lastSeen.Load() {
					lastSeen.Store(lg.BlockNumber)
				}

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Backfill replays historical logs from fromBlock to the current head through fn
// and returns the head it stopped at.
func (c *Client) Backfill(ctx context.Context, fromBlock uint64, fn func(domain.ChainEvent) error) (uint64, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read head block: %w", err)
	}

	err = c.filterRange(ctx, fromBlock, head, func(lg types.Log) error {
		ev, ok := c.decodeLog(lg)
		if !ok {
			return nil
		}
		return fn(ev)
	})
	if err != nil {
		return 0, err
	}
	return head, nil
}

func (c *Client) query() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{c.escrow.Address, c.dao.Address},
	}
}

func (c *Client) subscribeAndReplay(ctx context.Context, from uint64, sink chan<- types.Log) (event.Subscription, error) {
	live := make(chan types.Log, c.bufferSize)
	rpcSub, err := c.backend.SubscribeFilterLogs(ctx, c.query(), live)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}

	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		rpcSub.Unsubscribe()
		return nil, fmt.Errorf("failed to read head block: %w", err)
	}

	if from <= head {
		err = c.filterRange(ctx, from, head, func(lg types.Log) error {
			select {
			case sink <- lg:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			rpcSub.Unsubscribe()
			return nil, err
		}
	}

	c.logger.Info("Subscribed to contract logs",
		slog.Uint64("replayed_from", from),
		slog.Uint64("head", head),
	)

	// Live logs are held in live until replay finishes so a job's history
	// always reaches the reconciler before its newer events.
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer rpcSub.Unsubscribe()
		for {
			select {
			case lg := <-live:
				select {
				case sink <- lg:
				case <-quit:
					return nil
				}
			case err := <-rpcSub.Err():
				if err == nil {
					err = errors.New("subscription closed by server")
				}
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *Client) filterRange(ctx context.Context, from, to uint64, fn func(types.Log) error) error {
	for start := from; start <= to; start += c.replayChunk {
		end := start + c.replayChunk - 1
		if end > to {
			end = to
		}

		q := c.query()
		q.FromBlock = new(big.Int).SetUint64(start)
		q.ToBlock = new(big.Int).SetUint64(end)

		logs, err := c.backend.FilterLogs(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to filter logs %d-%d: %w", start, end, err)
		}

		for _, lg := range logs {
			if err := fn(lg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) decodeLog(lg types.Log) (domain.ChainEvent, bool) {
	if lg.Removed {
		c.logger.Warn("Dropping log removed by reorg",
			slog.String("tx_hash", lg.TxHash.Hex()),
			slog.Uint64("block", lg.BlockNumber),
		)
		return domain.ChainEvent{}, false
	}

	var contract *Contract
	switch lg.Address {
	case c.escrow.Address:
		contract = c.escrow.Contract
	case c.dao.Address:
		contract = c.dao.Contract
	default:
		return domain.ChainEvent{}, false
	}

	ev, err := contract.Decode(lg)
	if err != nil {
		c.logger.Warn("Skipping undecodable log",
			slog.String("contract", contract.Name),
			slog.String("tx_hash", lg.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return domain.ChainEvent{}, false
	}
	return ev, true
}

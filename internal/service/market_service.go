// Package service sits between the transport layer and the marketplace
// engine. It serializes top-level calls, moves attached value through the
// treasury, and fans committed events out to the cache, signal bus, notifier
// and audit log.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/market"
)

const (
	// EventsChannel is the pub/sub channel and stream committed events are
	// published on.
	EventsChannel = "market:events"
	// EngineLockKey serializes engine calls across replicas.
	EngineLockKey = "market:engine"
)

// EventNotifier receives committed events for operator notification.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, evt domain.Event) error
}

// Options holds the optional collaborators of a MarketService. Nil fields
// disable the matching behaviour.
type Options struct {
	Lock         domain.LockManager
	LockTTL      time.Duration
	LockInterval time.Duration
	Bus          domain.SignalBus
	Cache        domain.CollectionCache
	Audit        domain.AuditStore
	Notifier     EventNotifier
}

// MarketService is the entry point for every marketplace call.
type MarketService struct {
	engine   *market.Engine
	treasury domain.Treasury
	opts     Options
	logger   *slog.Logger

	mu sync.Mutex
}

// NewMarketService creates a MarketService around engine. treasury is the
// same Treasury the engine pays out through; the service uses it to collect
// attached value before payable operations.
func NewMarketService(engine *market.Engine, treasury domain.Treasury, opts Options, logger *slog.Logger) *MarketService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockInterval <= 0 {
		opts.LockInterval = 25 * time.Millisecond
	}
	return &MarketService{
		engine:   engine,
		treasury: treasury,
		opts:     opts,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// ConfigureCollection enables a collection with the given royalty and
// metadata pointer.
func (s *MarketService) ConfigureCollection(ctx context.Context, call domain.Call, collection common.Address, royaltyPercent int, metadataURI string) (market.Receipt, error) {
	return s.run(ctx, call, false, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.ConfigureCollection(ctx, call, collection, royaltyPercent, metadataURI)
	})
}

// DisableCollection soft-deletes a collection.
func (s *MarketService) DisableCollection(ctx context.Context, call domain.Call, collection common.Address) (market.Receipt, error) {
	return s.run(ctx, call, false, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.DisableCollection(ctx, call, collection)
	})
}

// ListItem offers item to any buyer at minValue or more.
func (s *MarketService) ListItem(ctx context.Context, call domain.Call, item domain.Item, minValue *big.Int) (market.Receipt, error) {
	return s.run(ctx, call, false, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.ListItem(ctx, call, item, minValue)
	})
}

// ListItemForAddress offers item to buyer only.
func (s *MarketService) ListItemForAddress(ctx context.Context, call domain.Call, item domain.Item, minValue *big.Int, buyer common.Address) (market.Receipt, error) {
	return s.run(ctx, call, false, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.ListItemForAddress(ctx, call, item, minValue, buyer)
	})
}

// RevokeListing takes item off sale.
func (s *MarketService) RevokeListing(ctx context.Context, call domain.Call, item domain.Item) (market.Receipt, error) {
	return s.run(ctx, call, false, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.RevokeListing(ctx, call, item)
	})
}

// PlaceBid escrows call.Value as the new best bid on item.
func (s *MarketService) PlaceBid(ctx context.Context, call domain.Call, item domain.Item) (market.Receipt, error) {
	return s.run(ctx, call, true, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.PlaceBid(ctx, call, item)
	})
}

// WithdrawBid cancels the caller's bid on item and pays it back.
func (s *MarketService) WithdrawBid(ctx context.Context, call domain.Call, item domain.Item) (market.Receipt, error) {
	return s.run(ctx, call, false, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.WithdrawBid(ctx, call, item)
	})
}

// AcceptOffer buys item for call.Value.
func (s *MarketService) AcceptOffer(ctx context.Context, call domain.Call, item domain.Item) (market.Receipt, error) {
	return s.run(ctx, call, true, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.AcceptOffer(ctx, call, item)
	})
}

// AcceptBid sells item to its best bidder if the bid is at least minPrice.
func (s *MarketService) AcceptBid(ctx context.Context, call domain.Call, item domain.Item, minPrice *big.Int) (market.Receipt, error) {
	return s.run(ctx, call, false, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.AcceptBid(ctx, call, item, minPrice)
	})
}

// Withdraw pays out the caller's pending balance.
func (s *MarketService) Withdraw(ctx context.Context, call domain.Call) (market.Receipt, error) {
	return s.run(ctx, call, false, func(ctx context.Context, call domain.Call) (market.Receipt, error) {
		return s.engine.Withdraw(ctx, call)
	})
}

// Collection returns the configuration of a collection, consulting the cache
// first.
func (s *MarketService) Collection(ctx context.Context, addr common.Address) (domain.Collection, error) {
	if s.opts.Cache != nil {
		if c, err := s.opts.Cache.Get(ctx, addr); err == nil {
			return c, nil
		}
	}

	c, err := s.engine.Collection(ctx, addr)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("market_service: collection %s: %w", addr.Hex(), err)
	}

	if s.opts.Cache != nil && c.Enabled {
		if err := s.opts.Cache.Set(ctx, c); err != nil {
			s.warn(ctx, "cache set failed", err, slog.String("collection", addr.Hex()))
		}
	}
	return c, nil
}

// Offer returns the current offer record for item.
func (s *MarketService) Offer(ctx context.Context, item domain.Item) (domain.Offer, error) {
	o, err := s.engine.Offer(ctx, item)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("market_service: offer %s: %w", item, err)
	}
	return o, nil
}

// Bid returns the current bid record for item.
func (s *MarketService) Bid(ctx context.Context, item domain.Item) (domain.Bid, error) {
	b, err := s.engine.Bid(ctx, item)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("market_service: bid %s: %w", item, err)
	}
	return b, nil
}

// PendingBalance returns the amount party can withdraw.
func (s *MarketService) PendingBalance(ctx context.Context, party common.Address) (*big.Int, error) {
	b, err := s.engine.PendingBalance(ctx, party)
	if err != nil {
		return nil, fmt.Errorf("market_service: balance %s: %w", party.Hex(), err)
	}
	return b, nil
}

// run executes one engine call under the service lock. For payable calls the
// attached value is collected first and refunded if the engine rejects the
// call.
func (s *MarketService) run(ctx context.Context, call domain.Call, payable bool, fn func(context.Context, domain.Call) (market.Receipt, error)) (market.Receipt, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return market.Receipt{}, err
	}
	defer unlock()

	collected := payable && call.Amount().Sign() > 0
	if collected {
		if err := s.treasury.Collect(ctx, call.Caller, call.Amount()); err != nil {
			return market.Receipt{}, fmt.Errorf("market_service: collect %s from %s: %w", call.Amount(), call.Caller.Hex(), err)
		}
	}

	receipt, err := fn(ctx, call)
	if err != nil {
		if collected {
			s.refund(ctx, call)
		}
		return market.Receipt{}, err
	}

	s.publish(ctx, call, receipt)
	return receipt, nil
}

// lock takes the local mutex and, when configured, the distributed engine
// lock.
func (s *MarketService) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.opts.Lock == nil {
		return s.mu.Unlock, nil
	}

	release, err := s.acquireWait(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("market_service: engine lock: %w", err)
	}
	return func() {
		release()
		s.mu.Unlock()
	}, nil
}

// acquireWait retries the distributed lock until it is obtained or ctx ends.
func (s *MarketService) acquireWait(ctx context.Context) (func(), error) {
	for {
		release, err := s.opts.Lock.Acquire(ctx, EngineLockKey, s.opts.LockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}

		timer := time.NewTimer(s.opts.LockInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *MarketService) refund(ctx context.Context, call domain.Call) {
	if err := s.treasury.Pay(ctx, call.Caller, call.Amount()); err != nil {
		s.logger.ErrorContext(ctx, "refund failed",
			slog.String("caller", call.Caller.Hex()),
			slog.String("amount", call.Amount().String()),
			slog.String("error", err.Error()),
		)
	}
}

// publish fans committed events out. Failures are logged and never surface
// to the caller: the operation has already committed.
func (s *MarketService) publish(ctx context.Context, call domain.Call, receipt market.Receipt) {
	for _, evt := range receipt.Events {
		s.syncCache(ctx, evt)

		if s.opts.Bus != nil {
			payload, err := json.Marshal(evt)
			if err != nil {
				s.warn(ctx, "marshal event failed", err, slog.String("event_id", evt.ID))
				continue
			}
			if err := s.opts.Bus.Publish(ctx, EventsChannel, payload); err != nil {
				s.warn(ctx, "publish event failed", err, slog.String("event_id", evt.ID))
			}
			if err := s.opts.Bus.StreamAppend(ctx, EventsChannel, payload); err != nil {
				s.warn(ctx, "stream append failed", err, slog.String("event_id", evt.ID))
			}
		}

		if s.opts.Notifier != nil {
			if err := s.opts.Notifier.NotifyEvent(ctx, evt); err != nil {
				s.warn(ctx, "notify failed", err, slog.String("event_id", evt.ID))
			}
		}
	}

	if s.opts.Audit != nil {
		ids := make([]string, len(receipt.Events))
		for i, evt := range receipt.Events {
			ids[i] = evt.ID
		}
		entry := domain.AuditEntry{
			Event: "market." + receipt.Op,
			Actor: call.Caller,
			Detail: map[string]any{
				"value":  call.Amount().String(),
				"events": ids,
			},
		}
		if err := s.opts.Audit.Log(ctx, entry); err != nil {
			s.warn(ctx, "audit log failed", err, slog.String("op", receipt.Op))
		}
	}
}

func (s *MarketService) syncCache(ctx context.Context, evt domain.Event) {
	if s.opts.Cache == nil {
		return
	}

	var err error
	switch evt.Type {
	case domain.EventCollectionConfigured:
		err = s.opts.Cache.Set(ctx, domain.Collection{
			Address:        evt.Collection,
			Enabled:        true,
			RoyaltyPercent: evt.RoyaltyPercent,
			MetadataURI:    evt.MetadataURI,
			UpdatedAt:      evt.CreatedAt,
		})
	case domain.EventCollectionDisabled:
		err = s.opts.Cache.Invalidate(ctx, evt.Collection)
	default:
		return
	}
	if err != nil {
		// The entry expires on its own.
		s.warn(ctx, "cache update failed", err, slog.String("collection", evt.Collection.Hex()))
	}
}

func (s *MarketService) warn(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	s.logger.LogAttrs(ctx, slog.LevelWarn, msg, append(attrs, slog.String("error", err.Error()))...)
}

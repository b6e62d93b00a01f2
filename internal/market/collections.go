package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// requireAdmin checks that the caller is the administrative owner of the
// collection contract itself.
func (op *operation) requireAdmin(ctx context.Context, collection common.Address) error {
	admin, err := op.engine.assets.AdminOf(ctx, collection)
	if err != nil {
		return fmt.Errorf("market: %s: admin of %s: %w", op.name, collection.Hex(), err)
	}
	if admin != op.call.Caller {
		return op.reject(domain.ErrUnauthorized, "caller is not the collection owner")
	}
	return nil
}

// ConfigureCollection creates or overwrites the configuration of a collection
// and enables trading on it.
func (e *Engine) ConfigureCollection(ctx context.Context, call domain.Call, collection common.Address, royaltyPercent int, metadataURI string) (Receipt, error) {
	return e.execute(ctx, "configure_collection", call, func(ctx context.Context, op *operation) error {
		if err := op.noValue(); err != nil {
			return err
		}
		if err := op.requireAdmin(ctx, collection); err != nil {
			return err
		}
		if royaltyPercent < 0 || royaltyPercent > domain.MaxRoyaltyPercent {
			return op.reject(domain.ErrInvalidValue, "royalty percent must be between 0 and 100")
		}

		cfg := domain.Collection{
			Address:        collection,
			Enabled:        true,
			RoyaltyPercent: uint8(royaltyPercent),
			MetadataURI:    metadataURI,
			UpdatedAt:      e.now(),
		}
		if err := op.tx.PutCollection(ctx, cfg); err != nil {
			return fmt.Errorf("market: %s: store collection: %w", op.name, err)
		}

		op.annotate(
			slog.String("collection", collection.Hex()),
			slog.Int("royalty_percent", royaltyPercent),
		)
		return op.emit(ctx, domain.Event{
			Type:           domain.EventCollectionConfigured,
			Collection:     collection,
			From:           op.call.Caller,
			RoyaltyPercent: uint8(royaltyPercent),
			MetadataURI:    metadataURI,
		})
	})
}

// DisableCollection soft-deletes a collection: the record is reset to
// (disabled, 0, "") and trading on it stops.
func (e *Engine) DisableCollection(ctx context.Context, call domain.Call, collection common.Address) (Receipt, error) {
	return e.execute(ctx, "disable_collection", call, func(ctx context.Context, op *operation) error {
		if err := op.noValue(); err != nil {
			return err
		}
		if err := op.requireAdmin(ctx, collection); err != nil {
			return err
		}
		if _, err := op.enabledCollection(ctx, collection); err != nil {
			return err
		}

		cfg := domain.DisabledCollection(collection)
		cfg.UpdatedAt = e.now()
		if err := op.tx.PutCollection(ctx, cfg); err != nil {
			return fmt.Errorf("market: %s: store collection: %w", op.name, err)
		}

		op.annotate(slog.String("collection", collection.Hex()))
		return op.emit(ctx, domain.Event{
			Type:       domain.EventCollectionDisabled,
			Collection: collection,
			From:       op.call.Caller,
		})
	})
}

// Collection returns the stored configuration of a collection.
func (e *Engine) Collection(ctx context.Context, collection common.Address) (domain.Collection, error) {
	var out domain.Collection
	err := e.read(ctx, func(tx domain.MarketReader) error {
		c, err := tx.Collection(ctx, collection)
		out = c
		return err
	})
	return out, err
}

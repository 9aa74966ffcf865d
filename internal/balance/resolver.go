// Package balance resolves payment tag balances for the
// RequestTagBalance protocol operation.
package balance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/models"
	"github.com/pts-server/pts-server-pro/internal/storage"
)

// Resolver answers tag balance lookups from a Redis cache backed by
// the store. Tags absent from storage resolve to a configurable
// default so offline-provisioned fleets keep fueling.
type Resolver struct {
	store          storage.Store
	rdb            *redis.Client
	cacheTTL       time.Duration
	defaultBalance float64
}

// NewResolver creates a resolver. rdb may be nil to disable caching.
func NewResolver(store storage.Store, rdb *redis.Client, cacheTTL time.Duration, defaultBalance float64) *Resolver {
	return &Resolver{
		store:          store,
		rdb:            rdb,
		cacheTTL:       cacheTTL,
		defaultBalance: defaultBalance,
	}
}

func cacheKey(tagID string) string {
	return "pts:tag_balance:" + tagID
}

// Resolve returns the balance for a tag.
func (r *Resolver) Resolve(ctx context.Context, tagID string) (*models.TagBalance, error) {
	if tagID == "" {
		return nil, fmt.Errorf("empty tag id")
	}

	if cached := r.fromCache(ctx, tagID); cached != nil {
		return cached, nil
	}

	bal, err := r.store.GetTagBalance(ctx, tagID)
	if errors.Is(err, storage.ErrNotFound) {
		bal = &models.TagBalance{
			TagID:    tagID,
			Balance:  r.defaultBalance,
			IsValid:  true,
			CardType: "FLEET",
		}
	} else if err != nil {
		return nil, fmt.Errorf("tag balance lookup: %w", err)
	}

	r.toCache(ctx, bal)
	return bal, nil
}

// fromCache reads Redis; any failure is a miss.
func (r *Resolver) fromCache(ctx context.Context, tagID string) *models.TagBalance {
	if r.rdb == nil {
		return nil
	}

	data, err := r.rdb.Get(ctx, cacheKey(tagID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("tag_id", tagID).Msg("Tag balance cache read failed")
		}
		return nil
	}

	var bal models.TagBalance
	if err := json.Unmarshal(data, &bal); err != nil {
		return nil
	}
	return &bal
}

// toCache writes Redis, best-effort.
func (r *Resolver) toCache(ctx context.Context, bal *models.TagBalance) {
	if r.rdb == nil {
		return
	}

	data, err := json.Marshal(bal)
	if err != nil {
		return
	}

	if err := r.rdb.Set(ctx, cacheKey(bal.TagID), data, r.cacheTTL).Err(); err != nil {
		log.Debug().Err(err).Str("tag_id", bal.TagID).Msg("Tag balance cache write failed")
	}
}

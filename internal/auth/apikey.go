package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"relay-api/internal/shared"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// APIKeyAuthenticator resolves long lived API keys. Lookups go to redis
// first and fall back to the read replica, caching the result.
type APIKeyAuthenticator struct {
	redis *redis.Client
	rdb   *sql.DB
	log   *zap.SugaredLogger
}

func NewAPIKeyAuthenticator(redisClient *redis.Client, rdb *sql.DB, log *zap.SugaredLogger) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{redis: redisClient, rdb: rdb, log: log}
}

func apiKeyCacheKey(apiKey string) string {
	return fmt.Sprintf("v1:auth:apikey:%s", apiKey)
}

func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, apiKey string) (uint64, error) {
	cacheKey := apiKeyCacheKey(apiKey)
	cached, err := a.redis.Get(ctx, cacheKey).Result()
	switch err {
	case nil:
		userID, perr := strconv.ParseUint(cached, 10, 64)
		if perr == nil {
			return userID, nil
		}
		a.log.Errorw("Error parsing api key cache", "error", perr)
		fallthrough
	default:
		if err != nil && err != redis.Nil {
			a.log.Warnw("Redis error during API key lookup", "error", err)
		}
		a.log.Debugw("API key cache miss", "key", cacheKey)

		var userID uint64
		err = a.rdb.QueryRowContext(ctx, `
		SELECT api_key.user_id
		FROM api_key
		WHERE api_key.id = ? AND api_key.revoked = false
		`, apiKey).Scan(&userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				a.log.Warnw("Invalid API key")
				return 0, shared.ErrUnauthorized
			}
			a.log.Errorw("Database error during API key validation", "error", err)
			return 0, errors.Join(shared.ErrUnauthorized, err)
		}

		if err := a.redis.Set(ctx, cacheKey, strconv.FormatUint(userID, 10), shared.APIKeyCacheTTL).Err(); err != nil {
			a.log.Warnw("Failed caching api key", "error", err)
		}
		return userID, nil
	}
}

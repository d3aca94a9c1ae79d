package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
)

var (
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrInvalidKey       = errors.New("invalid API key")
)

const (
	keyPrefixLen = 12
	cacheTTL     = 5 * time.Minute
)

// Validator checks control API keys against Postgres, caching hits in Redis,
// and applies a per-key rate limit.
type Validator struct {
	db    *pgxpool.Pool
	redis *redis.Client
	limit int
}

func NewValidator(cfg *config.Config) (*Validator, error) {
	db, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return &Validator{
		db:    db,
		redis: rdb,
		limit: cfg.RateLimit.RequestsPerSecond,
	}, nil
}

// ValidateAPIKey returns the proctor ID that owns apiKey.
func (v *Validator) ValidateAPIKey(ctx context.Context, apiKey string) (string, error) {
	if len(apiKey) < keyPrefixLen {
		return "", ErrInvalidKeyFormat
	}

	keyHash := hashKey(apiKey)

	// Check cache first
	cacheKey := "apikey:" + keyHash
	proctorID, err := v.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		return proctorID, nil
	}

	var id string
	err = v.db.QueryRow(ctx, `
		SELECT proctor_id::text FROM agent_api_keys
		WHERE key_hash = $1 AND is_active = true
		AND (expires_at IS NULL OR expires_at > NOW())
	`, keyHash).Scan(&id)
	if err != nil {
		return "", ErrInvalidKey
	}

	v.redis.Set(ctx, cacheKey, id, cacheTTL)

	go func() {
		_, err := v.db.Exec(context.Background(), `
			UPDATE agent_api_keys
			SET last_used_at = NOW(), request_count = request_count + 1
			WHERE key_hash = $1
		`, keyHash)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to record API key use")
		}
	}()

	return id, nil
}

// CheckRateLimit reports whether proctorID may make another request this
// second. Redis failures allow the request.
func (v *Validator) CheckRateLimit(ctx context.Context, proctorID string) bool {
	key := "ratelimit:" + proctorID

	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return true
	}

	// Set expiry on first request
	if count == 1 {
		v.redis.Expire(ctx, key, time.Second)
	}

	return count <= int64(v.limit)
}

func (v *Validator) Close() {
	if v.db != nil {
		v.db.Close()
	}
	if v.redis != nil {
		v.redis.Close()
	}
}

func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

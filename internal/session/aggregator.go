package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/storage"
)

const (
	keyPrefix = "session:"

	// AlertsChannel is the Redis pub/sub channel live alerts are published on.
	AlertsChannel = "proctor:alerts"

	sessionTTL = time.Hour
)

// SessionStore persists finished sessions
type SessionStore interface {
	UpsertSession(ctx context.Context, session storage.SessionRow) error
}

// Aggregator keeps per-session proctoring counters in Redis. The agent feeds
// it alerts; the archiver flushes finished sessions to the store.
type Aggregator struct {
	store SessionStore
	redis *redis.Client
}

// NewAggregator creates a new session aggregator. store may be nil on the
// agent side, where sessions are only aggregated.
func NewAggregator(store SessionStore, redisCfg config.RedisConfig) *Aggregator {
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	return &Aggregator{
		store: store,
		redis: rdb,
	}
}

// Notify implements alerts.Notifier: it updates the session hash and
// publishes the alert for live subscribers.
func (a *Aggregator) Notify(ctx context.Context, alert alerts.Alert) error {
	if err := a.UpdateSession(ctx, alert); err != nil {
		return err
	}
	return a.Publish(ctx, alert)
}

// UpdateSession updates session aggregation in Redis
func (a *Aggregator) UpdateSession(ctx context.Context, alert alerts.Alert) error {
	if a.redis == nil || alert.SessionID == "" {
		return nil
	}

	key := keyPrefix + alert.SessionID
	ts := alert.Timestamp.UnixMilli()

	pipe := a.redis.Pipeline()

	pipe.HIncrBy(ctx, key, "alerts_count", 1)
	if field := counterField(alert.Type); field != "" {
		pipe.HIncrBy(ctx, key, field, 1)
	}

	switch alert.Type {
	case alerts.TypeTrackingStarted:
		pipe.HSetNX(ctx, key, "started_at", ts)
		for _, field := range []string{"browser", "browser_version", "os", "device_type"} {
			if v, ok := alert.Details[field].(string); ok && v != "" {
				pipe.HSetNX(ctx, key, field, v)
			}
		}

	case alerts.TypeTrackingStopped:
		pipe.HSet(ctx, key, "ended_at", ts)
		for _, field := range []string{"samples", "invalid_samples"} {
			if v, ok := alert.Details[field]; ok {
				pipe.HSet(ctx, key, field, v)
			}
		}
	}

	// Sessions the agent never saw start still get a start time
	pipe.HSetNX(ctx, key, "started_at", ts)

	pipe.Expire(ctx, key, sessionTTL)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Error().Err(err).Str("session_id", alert.SessionID).Msg("Failed to update session in Redis")
	}
	return err
}

// Publish sends the alert message on AlertsChannel.
func (a *Aggregator) Publish(ctx context.Context, alert alerts.Alert) error {
	if a.redis == nil {
		return nil
	}
	data, err := alerts.Encode(alert)
	if err != nil {
		return err
	}
	return a.redis.Publish(ctx, AlertsChannel, data).Err()
}

// FlushSession writes session data to the store
func (a *Aggregator) FlushSession(ctx context.Context, sessionID string) error {
	if a.redis == nil || a.store == nil {
		return nil
	}

	key := keyPrefix + sessionID

	data, err := a.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	session := parseSessionData(sessionID, data)

	if err := a.store.UpsertSession(ctx, session); err != nil {
		return err
	}

	// Delete from Redis after successful insert
	a.redis.Del(ctx, key)

	log.Info().
		Str("session_id", sessionID).
		Uint32("alerts", session.AlertsCount).
		Uint64("duration_ms", session.DurationMs).
		Msg("Session archived")

	return nil
}

// FlushAllSessions flushes every pending session, e.g. on archiver shutdown.
func (a *Aggregator) FlushAllSessions(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}

	iter := a.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		sessionID := strings.TrimPrefix(iter.Val(), keyPrefix)
		if err := a.FlushSession(ctx, sessionID); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to flush session")
		}
	}

	return iter.Err()
}

// Close closes the aggregator
func (a *Aggregator) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// counterField maps an alert type to its per-session counter.
func counterField(t alerts.Type) string {
	switch t {
	case alerts.TypeEyeStrain:
		return "eye_strain_count"
	case alerts.TypeMultipleFaces:
		return "multiple_faces_count"
	case alerts.TypeNoFace:
		return "no_face_count"
	case alerts.TypeMultipleScreens:
		return "multiple_screens_count"
	case alerts.TypeTrackingError, alerts.TypeFaceDetectionError, alerts.TypeScreenCheckError:
		return "errors_count"
	}
	return ""
}

func parseSessionData(sessionID string, data map[string]string) storage.SessionRow {
	session := storage.SessionRow{
		SessionID:      sessionID,
		Browser:        data["browser"],
		BrowserVersion: data["browser_version"],
		OS:             data["os"],
		DeviceType:     data["device_type"],
	}

	if ms, ok := parseInt(data, "started_at"); ok {
		session.StartedAt = time.UnixMilli(ms)
	}
	if ms, ok := parseInt(data, "ended_at"); ok {
		session.EndedAt = time.UnixMilli(ms)
	}
	if !session.StartedAt.IsZero() && !session.EndedAt.IsZero() && session.EndedAt.After(session.StartedAt) {
		session.DurationMs = uint64(session.EndedAt.Sub(session.StartedAt).Milliseconds())
	}

	session.Samples = parseCount(data, "samples")
	session.InvalidSamples = parseCount(data, "invalid_samples")
	session.AlertsCount = parseCount(data, "alerts_count")
	session.EyeStrainCount = parseCount(data, "eye_strain_count")
	session.MultipleFaces = parseCount(data, "multiple_faces_count")
	session.NoFaceCount = parseCount(data, "no_face_count")
	session.MultipleScreens = parseCount(data, "multiple_screens_count")
	session.ErrorsCount = parseCount(data, "errors_count")

	return session
}

func parseInt(data map[string]string, field string) (int64, bool) {
	v, ok := data[field]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func parseCount(data map[string]string, field string) uint32 {
	if v, ok := data[field]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return 0
}

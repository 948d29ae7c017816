package storage

import (
	"context"
	"strconv"
	"time"

	redissvc "ChatRelay/service/storage/redis"

	"github.com/pkg/errors"
	redislib "github.com/redis/go-redis/v9"
)

// Redis mirror of the in-memory presence tracker. The tracker is the source
// of truth for this gateway; the mirror lets other gateways and the REST side
// answer "is user X online" without asking every node.
//
// presence key: im:presence:<user>  value: gateway_id, TTL bounds staleness
// lastseen key: im:lastseen:<user>  value: unix millis, no TTL

func presenceKey(user string) string { return "im:presence:" + user }
func lastSeenKey(user string) string { return "im:lastseen:" + user }

// PresenceOnline marks the user online on this gateway and renews the TTL.
func PresenceOnline(ctx context.Context, user, gatewayID string, ttl time.Duration) error {
	if err := redissvc.GetRedis().Set(ctx, presenceKey(user), gatewayID, ttl).Err(); err != nil {
		return errors.Wrap(err, "presence online")
	}
	return nil
}

// PresenceOffline removes the presence key and records the last-seen stamp.
func PresenceOffline(ctx context.Context, user string, lastSeen time.Time) error {
	rdb := redissvc.GetRedis()
	pipe := rdb.TxPipeline()
	pipe.Del(ctx, presenceKey(user))
	pipe.Set(ctx, lastSeenKey(user), strconv.FormatInt(lastSeen.UnixMilli(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "presence offline")
	}
	return nil
}

// PresenceLookup reports whether the user is online anywhere and on which gateway.
func PresenceLookup(ctx context.Context, user string) (gatewayID string, online bool, err error) {
	val, err := redissvc.GetRedis().Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redislib.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return val, true, nil
}

// LastSeen returns the recorded last-seen time, zero if never recorded.
func LastSeen(ctx context.Context, user string) (time.Time, error) {
	val, err := redissvc.GetRedis().Get(ctx, lastSeenKey(user)).Result()
	if errors.Is(err, redislib.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrap(err, "last seen")
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "last seen parse")
	}
	return time.UnixMilli(ms), nil
}

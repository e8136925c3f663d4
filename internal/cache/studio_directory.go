// Package cache holds redis-backed lookups shared across instances.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/util"
	"go.uber.org/zap"
)

const (
	directoryKey = "smshub:studio_directory"
	UnknownName  = "Unknown"
)

// StudioDirectory maps every active studio phone number to the studio name.
// The map lives in a redis hash with a TTL and is rebuilt from the store on miss.
type StudioDirectory struct {
	rdb     redis.Cmdable
	studios repository.StudiosRepository
	ttl     time.Duration
	log     *zap.Logger
}

// NewStudioDirectory accepts a nil rdb, in which case every call reads the store.
func NewStudioDirectory(rdb redis.Cmdable, studios repository.StudiosRepository, ttl time.Duration, log *zap.Logger) *StudioDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StudioDirectory{rdb: rdb, studios: studios, ttl: ttl, log: log}
}

func (d *StudioDirectory) Names(ctx context.Context) (map[string]string, error) {
	if d.rdb != nil {
		m, err := d.rdb.HGetAll(ctx, directoryKey).Result()
		if err == nil && len(m) > 0 {
			return m, nil
		}
		if err != nil {
			d.log.Warn("studio directory cache read", zap.Error(err))
		}
	}

	m, err := d.build(ctx)
	if err != nil {
		return nil, err
	}
	if d.rdb != nil && len(m) > 0 {
		fields := make(map[string]any, len(m))
		for k, v := range m {
			fields[k] = v
		}
		pipe := d.rdb.TxPipeline()
		pipe.Del(ctx, directoryKey)
		pipe.HSet(ctx, directoryKey, fields)
		pipe.Expire(ctx, directoryKey, d.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			d.log.Warn("studio directory cache write", zap.Error(err))
		}
	}
	return m, nil
}

func (d *StudioDirectory) build(ctx context.Context) (map[string]string, error) {
	studios, err := d.studios.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(studios)*2)
	for _, st := range studios {
		for _, p := range []model.Provider{model.ProviderRingCentral, model.ProviderTwilio} {
			if phone := util.NormalizePhone(st.PhoneFor(p)); phone != "" {
				m[phone] = st.Name
			}
		}
	}
	return m, nil
}

// Lookup resolves a phone against a names map, "Unknown" when unmatched.
func Lookup(names map[string]string, phone string) string {
	if name, ok := names[util.NormalizePhone(phone)]; ok && name != "" {
		return name
	}
	return UnknownName
}

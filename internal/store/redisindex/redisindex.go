// Package redisindex keeps the latest accepted reading per account in Redis so
// several consumer instances share one monotonicity baseline.
package redisindex

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
)

const defaultPrefix = "smartgrid:reading:"

// casScript swaps the hash only if its (cumulative, ts) pair still matches.
// ARGV: present flag, expected cumulative, expected ts, provider, cumulative, ts, manual
var casScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'cumulative', 'ts')
if ARGV[1] == '0' then
  if cur[1] then return 0 end
elseif cur[1] ~= ARGV[2] or cur[2] ~= ARGV[3] then
  return 0
end
redis.call('HSET', KEYS[1], 'provider', ARGV[4], 'cumulative', ARGV[5], 'ts', ARGV[6], 'manual', ARGV[7])
return 1
`)

// ReadingIndex implements store.ReadingIndex on Redis hashes.
type ReadingIndex struct {
	rdb    *redis.Client
	prefix string
}

// New creates an index storing one hash per account under prefix.
func New(rdb *redis.Client, prefix string) *ReadingIndex {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &ReadingIndex{rdb: rdb, prefix: prefix}
}

func (i *ReadingIndex) key(accountID string) string {
	return i.prefix + accountID
}

// Get returns the latest reading for an account.
func (i *ReadingIndex) Get(ctx context.Context, accountID string) (*models.Reading, error) {
	fields, err := i.rdb.HGetAll(ctx, i.key(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get latest reading: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cumulative, err := strconv.ParseFloat(fields["cumulative"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse cumulative for %s: %w", accountID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, fields["ts"])
	if err != nil {
		return nil, fmt.Errorf("parse timestamp for %s: %w", accountID, err)
	}

	return &models.Reading{
		AccountID:             accountID,
		ProviderID:            fields["provider"],
		CumulativeConsumption: cumulative,
		Timestamp:             ts.UTC(),
		IsManualEntry:         fields["manual"] == "1",
	}, nil
}

// CompareAndSet replaces the latest reading if it still matches expected.
func (i *ReadingIndex) CompareAndSet(ctx context.Context, accountID string, expected *models.Reading, next models.Reading) error {
	args := []interface{}{"0", "", ""}
	if expected != nil {
		args = []interface{}{"1", formatFloat(expected.CumulativeConsumption), formatTime(expected.Timestamp)}
	}
	manual := "0"
	if next.IsManualEntry {
		manual = "1"
	}
	args = append(args, next.ProviderID, formatFloat(next.CumulativeConsumption), formatTime(next.Timestamp), manual)

	swapped, err := casScript.Run(ctx, i.rdb, []string{i.key(accountID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("store latest reading: %w", err)
	}
	if swapped == 0 {
		return fmt.Errorf("%w: latest reading of account %s changed", models.ErrConflict, accountID)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Ensure interface compliance.
var _ store.ReadingIndex = (*ReadingIndex)(nil)

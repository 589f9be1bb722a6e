package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// ClaimLedger implements claim.Ledger with SET NX claims and JSON outcomes.
type ClaimLedger struct {
	rdb    *redis.Client
	holder string
}

// NewClaimLedger creates a Redis-backed claim ledger.
func NewClaimLedger(client *Client) *ClaimLedger {
	host, _ := os.Hostname()
	return &ClaimLedger{
		rdb:    client.rdb,
		holder: fmt.Sprintf("%s:%d", host, os.Getpid()),
	}
}

type claimValue struct {
	Holder    string    `json:"holder"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Claim takes the record for ttl.
func (l *ClaimLedger) Claim(ctx context.Context, instance, id string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(claimValue{Holder: l.holder, ClaimedAt: time.Now().UTC()})
	if err != nil {
		return false, fmt.Errorf("failed to marshal claim: %w", err)
	}

	ok, err := l.rdb.SetNX(ctx, claimKey(instance, id), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Release drops the claim unless an outcome is stored.
func (l *ClaimLedger) Release(ctx context.Context, instance, id string) error {
	n, err := l.rdb.Exists(ctx, outcomeKey(instance, id)).Result()
	if err != nil {
		return fmt.Errorf("exists failed: %w", err)
	}
	if n > 0 {
		return nil
	}
	return l.rdb.Del(ctx, claimKey(instance, id)).Err()
}

// SaveOutcome stores an outcome awaiting its mark.
func (l *ClaimLedger) SaveOutcome(ctx context.Context, instance, id string, outcome domain.Outcome, ttl time.Duration) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if err := l.rdb.Set(ctx, outcomeKey(instance, id), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set outcome: %w", err)
	}
	return nil
}

// Outcome returns a stored outcome.
func (l *ClaimLedger) Outcome(ctx context.Context, instance, id string) (domain.Outcome, bool, error) {
	val, err := l.rdb.Get(ctx, outcomeKey(instance, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Outcome{}, false, nil
	}
	if err != nil {
		return domain.Outcome{}, false, fmt.Errorf("get failed: %w", err)
	}

	var out domain.Outcome
	if err := json.Unmarshal(val, &out); err != nil {
		return domain.Outcome{}, false, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	return out, true, nil
}

// Clear removes claim and outcome.
func (l *ClaimLedger) Clear(ctx context.Context, instance, id string) error {
	return l.rdb.Del(ctx, claimKey(instance, id), outcomeKey(instance, id)).Err()
}

// Pending lists records with a live claim or stored outcome.
func (l *ClaimLedger) Pending(ctx context.Context, instance string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, prefix := range []string{claimKey(instance, ""), outcomeKey(instance, "")} {
		iter := l.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			seen[strings.TrimPrefix(iter.Val(), prefix)] = struct{}{}
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

package claim

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
)

type entry struct {
	claimedUntil time.Time
	outcome      *domain.Outcome
	outcomeUntil time.Time
}

// MemoryLedger keeps claims in process. Claims do not survive a restart.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*entry), now: time.Now}
}

func key(instance, id string) string {
	return instance + "\x00" + id
}

func (l *MemoryLedger) get(instance, id string) *entry {
	e := l.entries[key(instance, id)]
	if e == nil {
		return nil
	}
	now := l.now()
	if e.outcome != nil && now.After(e.outcomeUntil) {
		e.outcome = nil
	}
	if e.outcome == nil && now.After(e.claimedUntil) {
		delete(l.entries, key(instance, id))
		return nil
	}
	return e
}

func (l *MemoryLedger) Claim(ctx context.Context, instance, id string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.get(instance, id)
	if e == nil {
		l.entries[key(instance, id)] = &entry{claimedUntil: l.now().Add(ttl)}
		return true, nil
	}
	if l.now().Before(e.claimedUntil) {
		return false, nil
	}
	e.claimedUntil = l.now().Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Release(ctx context.Context, instance, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e := l.get(instance, id); e != nil && e.outcome == nil {
		delete(l.entries, key(instance, id))
	}
	return nil
}

func (l *MemoryLedger) SaveOutcome(ctx context.Context, instance, id string, outcome domain.Outcome, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.get(instance, id)
	if e == nil {
		e = &entry{}
		l.entries[key(instance, id)] = e
	}
	e.outcome = &outcome
	e.outcomeUntil = l.now().Add(ttl)
	return nil
}

func (l *MemoryLedger) Outcome(ctx context.Context, instance, id string) (domain.Outcome, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e := l.get(instance, id); e != nil && e.outcome != nil {
		return *e.outcome, true, nil
	}
	return domain.Outcome{}, false, nil
}

func (l *MemoryLedger) Clear(ctx context.Context, instance, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key(instance, id))
	return nil
}

func (l *MemoryLedger) Pending(ctx context.Context, instance string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	prefix := instance + "\x00"
	for k := range l.entries {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		id := k[len(prefix):]
		if l.get(instance, id) != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Sweep drops expired claims and outcomes of records never seen again.
func (l *MemoryLedger) Sweep(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k := range l.entries {
		instance, id, _ := strings.Cut(k, "\x00")
		if l.get(instance, id) == nil {
			removed++
		}
	}
	return removed, nil
}

// Package memory implements kvstore.Store as an in-process map. It backs unit
// tests and single-node development runs; production deployments use the redis
// implementation.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/openpaisa/paisad/internal/storage/kvstore"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type zmember struct {
	score  float64
	member string
}

// Store is a mutex-guarded map satisfying kvstore.Store. The Now field can be
// replaced in tests to drive TTL expiry without sleeping.
type Store struct {
	mu     sync.Mutex
	closed bool

	strings map[string]entry
	zsets   map[string][]zmember
	sets    map[string]map[string]struct{}
	expiry  map[string]time.Time // zset/set expiry, keyed by key

	Now func() time.Time
}

var _ kvstore.Store = (*Store)(nil)

// New returns an empty Store using the wall clock.
func New() *Store {
	return &Store{
		strings: make(map[string]entry),
		zsets:   make(map[string][]zmember),
		sets:    make(map[string]map[string]struct{}),
		expiry:  make(map[string]time.Time),
		Now:     time.Now,
	}
}

func (s *Store) expired(at time.Time) bool {
	return !at.IsZero() && !s.Now().Before(at)
}

// reap drops the key from every namespace if its expiry has passed.
// Callers hold s.mu.
func (s *Store) reap(key string) {
	if e, ok := s.strings[key]; ok && s.expired(e.expiresAt) {
		delete(s.strings, key)
	}
	if at, ok := s.expiry[key]; ok && s.expired(at) {
		delete(s.expiry, key)
		delete(s.zsets, key)
		delete(s.sets, key)
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", kvstore.ErrStoreClosed
	}
	s.reap(key)
	e, ok := s.strings[key]
	if !ok {
		return "", kvstore.ErrKeyNotFound
	}
	return e.value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrStoreClosed
	}
	s.strings[key] = entry{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrStoreClosed
	}
	for _, key := range keys {
		delete(s.strings, key)
		delete(s.zsets, key)
		delete(s.sets, key)
		delete(s.expiry, key)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, kvstore.ErrStoreClosed
	}
	s.reap(key)
	if _, ok := s.strings[key]; ok {
		return false, nil
	}
	s.strings[key] = entry{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, kvstore.ErrStoreClosed
	}
	s.reap(key)
	e, ok := s.strings[key]
	if !ok || e.value != expect {
		return false, nil
	}
	delete(s.strings, key)
	return true, nil
}

func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, kvstore.ErrStoreClosed
	}
	s.reap(key)
	e, ok := s.strings[key]
	var n int64
	if ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	at := e.expiresAt
	if !ok {
		at = s.deadline(ttl)
	}
	s.strings[key] = entry{value: strconv.FormatInt(n, 10), expiresAt: at}
	return n, nil
}

func (s *Store) ZAddTrim(ctx context.Context, key string, score float64, member string, keep int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrStoreClosed
	}
	s.reap(key)
	members := s.zsets[key]
	replaced := false
	for i := range members {
		if members[i].member == member {
			members[i].score = score
			replaced = true
			break
		}
	}
	if !replaced {
		members = append(members, zmember{score: score, member: member})
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].score < members[j].score })
	if keep > 0 && len(members) > keep {
		members = members[len(members)-keep:]
	}
	s.zsets[key] = members
	s.expiry[key] = s.deadline(ttl)
	return nil
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, kvstore.ErrStoreClosed
	}
	s.reap(key)
	members := s.zsets[key]
	n := int64(len(members))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	for _, m := range members[start : stop+1] {
		out = append(out, m.member)
	}
	return out, nil
}

func (s *Store) SAddWithTTL(ctx context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrStoreClosed
	}
	s.reap(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
		s.expiry[key] = s.deadline(ttl)
	}
	set[member] = struct{}{}
	return nil
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, kvstore.ErrStoreClosed
	}
	s.reap(key)
	return int64(len(s.sets[key])), nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.Now().Add(ttl)
}

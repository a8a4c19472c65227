package presence

import (
	"container/list"
	"sort"
	"time"

	"github.com/LdDl/mot-presence/monitoring"
)

// RetentionPolicy bounds the record store. Zero values mean no bound,
// i.e. every record is kept until the process ends.
type RetentionPolicy struct {
	// Records not observed for longer than MaxAge are evicted
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
	// Store size cap, least recently observed records are evicted first
	MaxRecords int `yaml:"max_records" json:"max_records"`
}

// Unbounded returns true if policy never evicts anything
func (p RetentionPolicy) Unbounded() bool {
	return p.MaxAge <= 0 && p.MaxRecords <= 0
}

// Store keeps track records by identity.
// Records are ordered by recency of observation: eviction walks from the least recent
// one and stops at the first record that is neither too old nor over the size cap.
// Store is owned by single Manager and is not safe for concurrent use.
type Store struct {
	records map[int64]*Record
	// front = most recently observed
	recency *list.List
	policy  RetentionPolicy
}

// NewStore creates empty store with given retention policy
func NewStore(policy RetentionPolicy) *Store {
	return &Store{
		records: make(map[int64]*Record),
		recency: list.New(),
		policy:  policy,
	}
}

// Policy returns retention policy of the store
func (s *Store) Policy() RetentionPolicy {
	return s.policy
}

// GetOrCreate returns record for identity creating it when identity is unknown.
// The second value is true when record has been created by this call.
// New record has no observations: call Observe to register one.
func (s *Store) GetOrCreate(id int64, className string, now time.Time) (*Record, bool) {
	if rec, ok := s.records[id]; ok {
		return rec, false
	}
	rec := &Record{
		state: Summary{
			ID:        id,
			ClassName: className,
			FirstSeen: now,
			LastSeen:  now,
			Frames:    make([]int64, 0, 16),
		},
	}
	rec.elem = s.recency.PushFront(rec)
	s.records[id] = rec
	return rec, true
}

// Observe registers observation of the record at given frame
func (s *Store) Observe(rec *Record, frame int64, box Box, now time.Time) {
	rec.observe(frame, box, now)
	s.recency.MoveToFront(rec.elem)
}

// Get returns record by identity
func (s *Store) Get(id int64) (*Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Has returns true if store has record for identity
func (s *Store) Has(id int64) bool {
	_, ok := s.records[id]
	return ok
}

// Len returns number of records
func (s *Store) Len() int {
	return len(s.records)
}

// IDs returns all known identities in ascending order
func (s *Store) IDs() []int64 {
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns detached copies of all records ordered by identity
func (s *Store) Snapshot() []Summary {
	ids := s.IDs()
	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, s.records[id].Summary())
	}
	return summaries
}

// Evict applies retention policy and returns evicted records ordered by identity.
// Identities from keep (e.g. observed on the current frame) are never evicted.
func (s *Store) Evict(now time.Time, keep map[int64]struct{}) []Summary {
	if s.policy.Unbounded() || len(s.records) == 0 {
		return nil
	}
	evicted := make([]Summary, 0)
	for elem := s.recency.Back(); elem != nil; {
		rec := elem.Value.(*Record)
		prev := elem.Prev()
		if _, ok := keep[rec.ID()]; !ok {
			if !s.expired(rec, now) {
				// Every more recent record is fresh too
				break
			}
			evicted = append(evicted, rec.Summary())
			s.remove(rec)
		}
		elem = prev
	}
	if len(evicted) > 0 {
		sort.Slice(evicted, func(i, j int) bool { return evicted[i].ID < evicted[j].ID })
		monitoring.Logf("presence: evicted records=%d remaining=%d", len(evicted), len(s.records))
	}
	return evicted
}

// expired checks record against policy. Walking from the least recent record
// guarantees that size cap removes the oldest ones first.
func (s *Store) expired(rec *Record, now time.Time) bool {
	if s.policy.MaxAge > 0 && now.Sub(rec.LastSeen()) > s.policy.MaxAge {
		return true
	}
	return s.policy.MaxRecords > 0 && len(s.records) > s.policy.MaxRecords
}

func (s *Store) remove(rec *Record) {
	s.recency.Remove(rec.elem)
	rec.elem = nil
	delete(s.records, rec.ID())
}

package store

import (
	"math"
	"sort"
	"sync"

	"trafficsim/internal/domain"
)

type ListOptions struct {
	Axis   *domain.Axis
	PathID string
}

// Store holds the last published simulation snapshot for readers outside
// the driver loop, with the vehicles indexed by id, lane and axis.
type Store struct {
	mu        sync.RWMutex
	snapshot  domain.Snapshot
	published bool

	vehicles map[uint64]*domain.Vehicle
	byPath   map[string]map[uint64]struct{}
	byAxis   map[domain.Axis]map[uint64]struct{}
}

func New() *Store {
	return &Store{
		vehicles: make(map[uint64]*domain.Vehicle),
		byPath:   make(map[string]map[uint64]struct{}),
		byAxis:   make(map[domain.Axis]map[uint64]struct{}),
	}
}

// Publish replaces the stored snapshot and returns the vehicle changes
// relative to the previous one, updates first, ordered by id.
func (s *Store) Publish(snap domain.Snapshot) []domain.VehicleDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deltas []domain.VehicleDelta
	live := make(map[uint64]struct{}, len(snap.Vehicles))

	for i := range snap.Vehicles {
		v := snap.Vehicles[i]
		live[v.ID] = struct{}{}

		existing, exists := s.vehicles[v.ID]
		if exists && !hasChanged(existing, &v) {
			continue
		}
		if exists && existing.PathID != v.PathID {
			s.removeFromIndices(existing)
		}
		s.vehicles[v.ID] = &v
		s.addToIndices(&v)

		vc := v
		deltas = append(deltas, domain.VehicleDelta{
			Type:    domain.DeltaUpdate,
			Vehicle: &vc,
			ID:      v.ID,
			Axis:    v.Axis,
		})
	}

	var removed []domain.VehicleDelta
	for id, v := range s.vehicles {
		if _, ok := live[id]; ok {
			continue
		}
		removed = append(removed, domain.VehicleDelta{
			Type: domain.DeltaRemove,
			ID:   id,
			Axis: v.Axis,
		})
		s.removeFromIndices(v)
		delete(s.vehicles, id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	deltas = append(deltas, removed...)

	s.snapshot = snap
	s.published = true
	return deltas
}

// Snapshot returns the last published snapshot; ok is false until the
// first publish.
func (s *Store) Snapshot() (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.published
}

func (s *Store) Get(id uint64) (*domain.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, false
	}
	copy := *v
	return &copy, true
}

// List returns copies of the matching vehicles ordered by id
func (s *Store) List(opts ListOptions) []*domain.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.getCandidates(opts)

	result := make([]*domain.Vehicle, 0, len(candidates))
	for id := range candidates {
		copy := *s.vehicles[id]
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// CountByAxis returns the number of live vehicles per axis
func (s *Store) CountByAxis() map[domain.Axis]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Axis]int, len(s.byAxis))
	for axis, ids := range s.byAxis {
		out[axis] = len(ids)
	}
	return out
}

func (s *Store) getCandidates(opts ListOptions) map[uint64]struct{} {
	if opts.Axis != nil && opts.PathID != "" {
		return intersect(s.byAxis[*opts.Axis], s.byPath[opts.PathID])
	}
	if opts.Axis != nil {
		return copySet(s.byAxis[*opts.Axis])
	}
	if opts.PathID != "" {
		return copySet(s.byPath[opts.PathID])
	}

	result := make(map[uint64]struct{}, len(s.vehicles))
	for id := range s.vehicles {
		result[id] = struct{}{}
	}
	return result
}

func intersect(a, b map[uint64]struct{}) map[uint64]struct{} {
	result := make(map[uint64]struct{})
	if a == nil || b == nil {
		return result
	}

	smaller, larger := a, b
	if len(a) > len(b) {
		smaller, larger = b, a
	}
	for id := range smaller {
		if _, ok := larger[id]; ok {
			result[id] = struct{}{}
		}
	}
	return result
}

func copySet(src map[uint64]struct{}) map[uint64]struct{} {
	result := make(map[uint64]struct{}, len(src))
	for id := range src {
		result[id] = struct{}{}
	}
	return result
}

func (s *Store) addToIndices(v *domain.Vehicle) {
	if s.byPath[v.PathID] == nil {
		s.byPath[v.PathID] = make(map[uint64]struct{})
	}
	s.byPath[v.PathID][v.ID] = struct{}{}

	if s.byAxis[v.Axis] == nil {
		s.byAxis[v.Axis] = make(map[uint64]struct{})
	}
	s.byAxis[v.Axis][v.ID] = struct{}{}
}

func (s *Store) removeFromIndices(v *domain.Vehicle) {
	if ids := s.byPath[v.PathID]; ids != nil {
		delete(ids, v.ID)
		if len(ids) == 0 {
			delete(s.byPath, v.PathID)
		}
	}
	if ids := s.byAxis[v.Axis]; ids != nil {
		delete(ids, v.ID)
		if len(ids) == 0 {
			delete(s.byAxis, v.Axis)
		}
	}
}

func hasChanged(old, new *domain.Vehicle) bool {
	const epsilon = 1e-9

	if old.PathID != new.PathID {
		return true
	}
	return math.Abs(old.Distance-new.Distance) > epsilon ||
		math.Abs(old.Speed-new.Speed) > epsilon
}

package schemas

import "sort"

// Counter is one tile of the dashboard summary.
type Counter struct {
	ID    int    `json:"id"`
	Label string `json:"name"`
	Value int    `json:"value"`
}

// CounterSnapshot is an immutable set of counters keyed by id. Methods
// return new snapshots and never modify the receiver.
type CounterSnapshot struct {
	counters []Counter
}

// DefaultCounters is the placeholder shown before the backend answers.
func DefaultCounters() CounterSnapshot {
	return NewCounterSnapshot([]Counter{
		{ID: 1, Label: "Pending", Value: 10},
		{ID: 2, Label: "Completed", Value: 5},
		{ID: 3, Label: "Failed", Value: 8},
		{ID: 4, Label: "Other", Value: 12},
	})
}

// NewCounterSnapshot copies counters into a snapshot ordered by id. Later
// entries win when ids repeat.
func NewCounterSnapshot(counters []Counter) CounterSnapshot {
	byID := make(map[int]Counter, len(counters))
	for _, c := range counters {
		byID[c.ID] = c
	}
	out := make([]Counter, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return CounterSnapshot{counters: out}
}

// Merge overlays the values of update onto s. Counters only present in update
// are appended; a blank label in update keeps the existing one.
func (s CounterSnapshot) Merge(update CounterSnapshot) CounterSnapshot {
	merged := s.Counters()
	index := make(map[int]int, len(merged))
	for i, c := range merged {
		index[c.ID] = i
	}
	for _, u := range update.counters {
		if i, ok := index[u.ID]; ok {
			if u.Label != "" {
				merged[i].Label = u.Label
			}
			merged[i].Value = u.Value
			continue
		}
		merged = append(merged, u)
	}
	return NewCounterSnapshot(merged)
}

// Counters returns a copy of the counters ordered by id.
func (s CounterSnapshot) Counters() []Counter {
	out := make([]Counter, len(s.counters))
	copy(out, s.counters)
	return out
}

// Get returns the counter with the given id.
func (s CounterSnapshot) Get(id int) (Counter, bool) {
	for _, c := range s.counters {
		if c.ID == id {
			return c, true
		}
	}
	return Counter{}, false
}

// Total sums every counter value.
func (s CounterSnapshot) Total() int {
	total := 0
	for _, c := range s.counters {
		total += c.Value
	}
	return total
}

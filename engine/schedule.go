package engine

import (
	"time"

	"github.com/google/btree"
)

const scheduleTreeDegree = 8

// Task is a scheduled action. It receives the tick time that ran it.
type Task func(now time.Time)

type scheduled struct {
	deadline time.Time
	seq      uint64
	name     string
	period   time.Duration
	run      Task
}

// Less orders entries by deadline, then by insertion.
func (s *scheduled) Less(o *scheduled) bool {
	if !s.deadline.Equal(o.deadline) {
		return s.deadline.Before(o.deadline)
	}
	return s.seq < o.seq
}

// Schedule is an ordered list of named deadlines. Nothing runs on its own:
// Run executes whatever is due at the time it is given. An entry is either
// one-shot or periodic; scheduling a name again replaces the previous entry.
//
// Schedule is not safe for concurrent use. The engine serializes access.
type Schedule struct {
	tree   *btree.BTreeG[*scheduled]
	byName map[string]*scheduled
	seq    uint64
}

// NewSchedule creates an empty schedule.
func NewSchedule() *Schedule {
	return &Schedule{
		tree:   btree.NewG(scheduleTreeDegree, (*scheduled).Less),
		byName: make(map[string]*scheduled),
	}
}

// At runs task once at deadline.
func (s *Schedule) At(name string, deadline time.Time, task Task) {
	s.insert(&scheduled{deadline: deadline, name: name, run: task})
}

// Every runs task each period, the first time one period after now.
func (s *Schedule) Every(name string, now time.Time, period time.Duration, task Task) {
	s.insert(&scheduled{deadline: now.Add(period), name: name, period: period, run: task})
}

func (s *Schedule) insert(e *scheduled) {
	s.Cancel(e.name)
	s.seq++
	e.seq = s.seq
	s.tree.ReplaceOrInsert(e)
	s.byName[e.name] = e
}

// Cancel removes the entry called name and reports whether there was one.
func (s *Schedule) Cancel(name string) bool {
	e, ok := s.byName[name]
	if !ok {
		return false
	}
	s.tree.Delete(e)
	delete(s.byName, name)
	return true
}

// Deadline returns when name is next due.
func (s *Schedule) Deadline(name string) (time.Time, bool) {
	e, ok := s.byName[name]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Pending reports whether name is scheduled.
func (s *Schedule) Pending(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Next returns the earliest deadline.
func (s *Schedule) Next() (time.Time, bool) {
	e, ok := s.tree.Min()
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Len returns the number of entries.
func (s *Schedule) Len() int {
	return s.tree.Len()
}

// Run executes every entry due at now in deadline order and returns how many
// ran. Entries cancelled or replaced by an earlier task in the same run are
// skipped. Periodic entries are re-armed one period after now, so a long
// pause does not cause a burst of catch-up runs.
func (s *Schedule) Run(now time.Time) int {
	var due []*scheduled
	s.tree.Ascend(func(e *scheduled) bool {
		if e.deadline.After(now) {
			return false
		}
		due = append(due, e)
		return true
	})

	ran := 0
	for _, e := range due {
		if s.byName[e.name] != e {
			continue
		}
		s.tree.Delete(e)
		delete(s.byName, e.name)
		if e.period > 0 {
			s.insert(&scheduled{deadline: now.Add(e.period), name: e.name, period: e.period, run: e.run})
		}
		e.run(now)
		ran++
	}
	return ran
}

// Clear removes every entry.
func (s *Schedule) Clear() {
	s.tree.Clear(false)
	s.byName = make(map[string]*scheduled)
}

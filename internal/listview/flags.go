package listview

import (
	"sync"
	"time"

	"github.com/pitabwire/console/model"
)

type flagEntry struct {
	flag  model.StatusFlag
	timer *time.Timer
	seq   uint64
}

// StatusFlags tracks the transient per-entity indicator of status updates.
// Each entity's flag clears on its own timer; setting a new flag for an
// entity replaces its timer without touching other entities.
type StatusFlags struct {
	onChange func()

	mu      sync.Mutex
	entries map[string]*flagEntry
	seq     uint64
	stopped bool
}

// NewStatusFlags creates an empty set. onChange, if non-nil, runs after a
// flag expires.
func NewStatusFlags(onChange func()) *StatusFlags {
	return &StatusFlags{onChange: onChange, entries: make(map[string]*flagEntry)}
}

// Begin marks id as loading. It reports false if id is already loading.
func (f *StatusFlags) Begin(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.entries[id]; ok && e.flag.State == model.FlagLoading {
		return false
	}
	f.setLocked(id, model.StatusFlag{State: model.FlagLoading}, 0)
	return true
}

// Succeed marks id as updated; the flag clears after ttl.
func (f *StatusFlags) Succeed(id string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(id, model.StatusFlag{State: model.FlagSuccess}, ttl)
}

// Fail marks id as failed with msg; the flag clears after ttl.
func (f *StatusFlags) Fail(id, msg string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(id, model.StatusFlag{State: model.FlagError, Message: msg}, ttl)
}

// Get returns the current flag of id.
func (f *StatusFlags) Get(id string) (model.StatusFlag, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return model.StatusFlag{}, false
	}
	return e.flag, true
}

// Len returns the number of live flags.
func (f *StatusFlags) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Stop cancels all timers. Flags set afterwards never expire.
func (f *StatusFlags) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	for _, e := range f.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

func (f *StatusFlags) setLocked(id string, flag model.StatusFlag, ttl time.Duration) {
	if old, ok := f.entries[id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	f.seq++
	e := &flagEntry{flag: flag, seq: f.seq}
	if ttl > 0 && !f.stopped {
		e.flag.Until = time.Now().Add(ttl)
		seq := e.seq
		e.timer = time.AfterFunc(ttl, func() { f.expire(id, seq) })
	}
	f.entries[id] = e
}

func (f *StatusFlags) expire(id string, seq uint64) {
	f.mu.Lock()
	e, ok := f.entries[id]
	if !ok || e.seq != seq {
		f.mu.Unlock()
		return
	}
	delete(f.entries, id)
	f.mu.Unlock()

	if f.onChange != nil {
		f.onChange()
	}
}

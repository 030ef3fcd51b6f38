package executor

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Exclusion slot keys. A run holds its schedule slot (if any), one slot per
// targeted brand, and the global all-brands slot for full-catalog runs. The
// lock is held only for the check-and-mark at run start and the release at
// run end, never across the per-brand work.
const (
	allBrandsSlot      = "all-brands"
	scheduleSlotPrefix = "schedule:"
)

func scheduleSlot(id uuid.UUID) string { return scheduleSlotPrefix + id.String() }
func brandSlot(id uuid.UUID) string    { return "brand:" + id.String() }

type slotSet struct {
	mu          sync.Mutex
	held        map[string]uuid.UUID // slot key -> run id occupying it
	manualLimit int                  // 0 disables the cap
	manualCount int
}

func newSlotSet(manualLimit int) *slotSet {
	return &slotSet{
		held:        make(map[string]uuid.UUID),
		manualLimit: manualLimit,
	}
}

// acquire claims every key for runID, or claims nothing and returns
// ErrConflict if any key is busy or the manual cap is reached. A busy
// schedule slot can only belong to the same schedule's previous run (keys
// never include a foreign schedule slot), so that case reports
// ErrOwnRunActive.
func (s *slotSet) acquire(runID uuid.UUID, keys []string, manual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if manual && s.manualLimit > 0 && s.manualCount >= s.manualLimit {
		return ErrConflict
	}
	for _, k := range keys {
		if _, busy := s.held[k]; busy {
			if strings.HasPrefix(k, scheduleSlotPrefix) {
				return ErrOwnRunActive
			}
			return ErrConflict
		}
	}
	for _, k := range keys {
		s.held[k] = runID
	}
	if manual {
		s.manualCount++
	}
	return nil
}

func (s *slotSet) release(runID uuid.UUID, keys []string, manual bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		if s.held[k] == runID {
			delete(s.held, k)
		}
	}
	if manual && s.manualCount > 0 {
		s.manualCount--
	}
}

package diff

import (
	"time"

	"roachy-battlesync/internal/constants"
	"roachy-battlesync/internal/domain"
)

// Timeline is the bounded replay buffer shown to the player. It holds at most
// limit items and is cleared whenever the turn or phase moves on.
type Timeline struct {
	limit int
	seq   uint64
	items []domain.ReplayItem
	now   func() time.Time
}

func NewTimeline(limit int) *Timeline {
	if limit <= 0 {
		limit = constants.ReplayLimit
	}
	return &Timeline{
		limit: limit,
		items: make([]domain.ReplayItem, 0, limit),
		now:   time.Now,
	}
}

// Apply diffs prev against curr and records the resulting events. It returns
// the events produced by this comparison, before any trimming.
func (t *Timeline) Apply(prev *domain.MatchState, curr domain.MatchState) []domain.CombatEvent {
	if prev != nil && (prev.Turn != curr.Turn || prev.Phase != curr.Phase) {
		t.items = t.items[:0]
	}

	events := Compute(prev, curr)
	at := t.now()
	for _, ev := range events {
		t.seq++
		t.items = append(t.items, domain.ReplayItem{Seq: t.seq, Event: ev, At: at})
	}
	if over := len(t.items) - t.limit; over > 0 {
		t.items = append(t.items[:0], t.items[over:]...)
	}
	return events
}

// Items returns a copy of the buffer, oldest first.
func (t *Timeline) Items() []domain.ReplayItem {
	out := make([]domain.ReplayItem, len(t.items))
	copy(out, t.items)
	return out
}

func (t *Timeline) Len() int { return len(t.items) }

func (t *Timeline) Reset() {
	t.items = t.items[:0]
}

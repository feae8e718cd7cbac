// Package diff reconciles consecutive match snapshots into combat events.
package diff

import (
	"roachy-battlesync/internal/domain"
)

// Compute compares prev and curr unit by unit, joined on unit id. A nil prev
// (first snapshot) yields no events. HP change and the alive->down transition
// are evaluated independently, so a unit can produce DAMAGE followed by KO.
func Compute(prev *domain.MatchState, curr domain.MatchState) []domain.CombatEvent {
	if prev == nil {
		return nil
	}

	var events []domain.CombatEvent
	events = appendSide(events, domain.SidePlayer, prev.Player.Team, curr.Player.Team, curr.Turn)
	events = appendSide(events, domain.SideOpponent, prev.Opponent.Team, curr.Opponent.Team, curr.Turn)
	return events
}

func appendSide(events []domain.CombatEvent, side domain.Side, prev, curr []domain.BattleUnit, turn int) []domain.CombatEvent {
	before := make(map[string]domain.BattleUnit, len(prev))
	for _, u := range prev {
		before[u.ID] = u
	}

	for _, u := range curr {
		old, ok := before[u.ID]
		if !ok {
			continue
		}

		ev := domain.CombatEvent{Side: side, UnitID: u.ID, UnitName: u.Name, Turn: turn}
		switch delta := u.HP - old.HP; {
		case delta < 0:
			ev.Kind, ev.Amount = domain.EventDamage, -delta
			events = append(events, ev)
		case delta > 0:
			ev.Kind, ev.Amount = domain.EventHeal, delta
			events = append(events, ev)
		}

		if old.IsAlive && !u.IsAlive {
			events = append(events, domain.CombatEvent{
				Kind:     domain.EventKnockout,
				Side:     side,
				UnitID:   u.ID,
				UnitName: u.Name,
				Turn:     turn,
			})
		}
	}
	return events
}

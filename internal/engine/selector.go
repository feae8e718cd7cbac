package engine

import (
	"errors"
	"fmt"
	"strings"

	"roachy-battlesync/internal/constants"
	"roachy-battlesync/internal/domain"
)

var (
	ErrLocked           = errors.New("actions are locked until the turn resolves")
	ErrInvalidAction    = errors.New("unsupported action type")
	ErrUnknownUnit      = errors.New("unit is not on your team")
	ErrUnitDown         = errors.New("unit is knocked out")
	ErrSkillOnCooldown  = errors.New("skill is on cooldown")
	ErrFinisherNotReady = errors.New("finisher needs full momentum")
	ErrInvalidTarget    = errors.New("target is not an alive opponent")
)

// MissingActionsError lists the alive units that still need an action.
type MissingActionsError struct {
	Units []string
}

func (e *MissingActionsError) Error() string {
	return fmt.Sprintf("choose an action for: %s", strings.Join(e.Units, ", "))
}

// Selector holds the local player's chosen action per unit for the current turn.
type Selector struct {
	actions map[string]domain.RoachyAction
}

func NewSelector() *Selector {
	return &Selector{actions: make(map[string]domain.RoachyAction)}
}

// Select validates action against state and records it. On rejection the
// mapping is left untouched. The recorded action is returned, with its
// target filled in or dropped as the action type requires.
func (s *Selector) Select(state domain.MatchState, action domain.RoachyAction, locked bool) (domain.RoachyAction, error) {
	if locked {
		return domain.RoachyAction{}, ErrLocked
	}
	if !action.ActionType.Valid() {
		return domain.RoachyAction{}, fmt.Errorf("%w: %q", ErrInvalidAction, action.ActionType)
	}

	unit, ok := state.Player.Unit(action.RoachyID)
	if !ok {
		return domain.RoachyAction{}, ErrUnknownUnit
	}
	if !unit.IsAlive {
		return domain.RoachyAction{}, ErrUnitDown
	}

	switch action.ActionType {
	case domain.ActionSkillA:
		if unit.Cooldowns.SkillA > 0 {
			return domain.RoachyAction{}, fmt.Errorf("%w: %s ready in %d turn(s)", ErrSkillOnCooldown, unit.SkillA.Name, unit.Cooldowns.SkillA)
		}
	case domain.ActionSkillB:
		if unit.Cooldowns.SkillB > 0 {
			return domain.RoachyAction{}, fmt.Errorf("%w: %s ready in %d turn(s)", ErrSkillOnCooldown, unit.SkillB.Name, unit.Cooldowns.SkillB)
		}
	case domain.ActionFinisher:
		if state.Player.Momentum < constants.MomentumCap {
			return domain.RoachyAction{}, fmt.Errorf("%w: %d/%d", ErrFinisherNotReady, state.Player.Momentum, constants.MomentumCap)
		}
	}

	if action.ActionType.Targeted() {
		if action.TargetID == "" {
			if target, ok := state.Opponent.FirstAlive(); ok {
				action.TargetID = target.ID
			}
		} else if target, ok := state.Opponent.Unit(action.TargetID); !ok || !target.IsAlive {
			return domain.RoachyAction{}, ErrInvalidTarget
		}
	} else {
		// untargeted actions never carry a target to the server
		action.TargetID = ""
	}

	s.actions[action.RoachyID] = action
	return action, nil
}

func (s *Selector) Deselect(roachyID string) bool {
	if _, ok := s.actions[roachyID]; !ok {
		return false
	}
	delete(s.actions, roachyID)
	return true
}

func (s *Selector) Clear() {
	clear(s.actions)
}

func (s *Selector) Len() int { return len(s.actions) }

func (s *Selector) Get(roachyID string) (domain.RoachyAction, bool) {
	a, ok := s.actions[roachyID]
	return a, ok
}

// Prune drops selections for units that are no longer alive or on the team.
func (s *Selector) Prune(state domain.MatchState) {
	for id := range s.actions {
		if u, ok := state.Player.Unit(id); !ok || !u.IsAlive {
			delete(s.actions, id)
		}
	}
}

// Ordered returns the explicit selections in team order.
func (s *Selector) Ordered(state domain.MatchState) []domain.RoachyAction {
	out := make([]domain.RoachyAction, 0, len(s.actions))
	for _, u := range state.Player.Team {
		if a, ok := s.actions[u.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}

// AutoFill builds the action set sent on timer expiry: one action per alive
// unit, the explicit choice when present, otherwise a basic attack on the
// first alive opponent.
func (s *Selector) AutoFill(state domain.MatchState) []domain.RoachyAction {
	alive := state.Player.AliveUnits()
	out := make([]domain.RoachyAction, 0, len(alive))
	for _, u := range alive {
		if a, ok := s.actions[u.ID]; ok {
			out = append(out, retarget(state, a))
			continue
		}
		out = append(out, defaultAction(state, u.ID))
	}
	return out
}

// LockInSet returns the action set for a manual lock-in, or a
// MissingActionsError naming every alive unit without a selection.
func (s *Selector) LockInSet(state domain.MatchState) ([]domain.RoachyAction, error) {
	alive := state.Player.AliveUnits()
	out := make([]domain.RoachyAction, 0, len(alive))
	var missing []string
	for _, u := range alive {
		a, ok := s.actions[u.ID]
		if !ok {
			missing = append(missing, u.Name)
			continue
		}
		out = append(out, retarget(state, a))
	}
	if len(missing) > 0 {
		return nil, &MissingActionsError{Units: missing}
	}
	return out, nil
}

func defaultAction(state domain.MatchState, roachyID string) domain.RoachyAction {
	action := domain.RoachyAction{RoachyID: roachyID, ActionType: domain.ActionBasicAttack}
	if target, ok := state.Opponent.FirstAlive(); ok {
		action.TargetID = target.ID
	}
	return action
}

// retarget moves a targeted action off an opponent that went down since it was chosen.
func retarget(state domain.MatchState, a domain.RoachyAction) domain.RoachyAction {
	if !a.ActionType.Targeted() {
		return a
	}
	if t, ok := state.Opponent.Unit(a.TargetID); ok && t.IsAlive {
		return a
	}
	if t, ok := state.Opponent.FirstAlive(); ok {
		a.TargetID = t.ID
	}
	return a
}

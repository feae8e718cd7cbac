package domain

import (
	"encoding/json"
	"time"
)

type Phase string

const (
	PhaseSelection  Phase = "SELECTION"
	PhaseResolution Phase = "RESOLUTION" // local only, while a submission is in flight
	PhaseFinished   Phase = "FINISHED"
)

type ActionType string

const (
	ActionBasicAttack ActionType = "BASIC_ATTACK"
	ActionSkillA      ActionType = "SKILL_A"
	ActionSkillB      ActionType = "SKILL_B"
	ActionGuard       ActionType = "GUARD"
	ActionFocus       ActionType = "FOCUS"
	ActionFinisher    ActionType = "FINISHER"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionBasicAttack, ActionSkillA, ActionSkillB, ActionGuard, ActionFocus, ActionFinisher:
		return true
	}
	return false
}

// Targeted reports whether the action hits an opposing unit.
func (a ActionType) Targeted() bool {
	return a == ActionBasicAttack || a == ActionSkillA || a == ActionSkillB
}

type MatchState struct {
	MatchID        string            `json:"matchId"`
	Turn           int               `json:"turn"`
	MaxTurns       int               `json:"maxTurns"`
	Phase          Phase             `json:"phase"`
	Player         PlayerState       `json:"player"`
	Opponent       PlayerState       `json:"opponent"`
	TurnTimeLeft   int               `json:"turnTimeLeft"`
	Winner         string            `json:"winner,omitempty"`
	WinReason      string            `json:"winReason,omitempty"`
	LastTurnEvents []json.RawMessage `json:"lastTurnEvents,omitempty"`
}

func (m MatchState) Finished() bool {
	return m.Phase == PhaseFinished
}

type PlayerState struct {
	PlayerID  string       `json:"playerId"`
	Team      []BattleUnit `json:"team"`
	Momentum  int          `json:"momentum"` // 0-100
	Knockouts int          `json:"knockouts"`
	IsBot     bool         `json:"isBot"`
}

// Unit looks a team member up by id.
func (p PlayerState) Unit(id string) (BattleUnit, bool) {
	for _, u := range p.Team {
		if u.ID == id {
			return u, true
		}
	}
	return BattleUnit{}, false
}

func (p PlayerState) AliveUnits() []BattleUnit {
	alive := make([]BattleUnit, 0, len(p.Team))
	for _, u := range p.Team {
		if u.IsAlive {
			alive = append(alive, u)
		}
	}
	return alive
}

// FirstAlive returns the first alive unit in team order.
func (p PlayerState) FirstAlive() (BattleUnit, bool) {
	for _, u := range p.Team {
		if u.IsAlive {
			return u, true
		}
	}
	return BattleUnit{}, false
}

type Skill struct {
	Name     string `json:"name"`
	Cooldown int    `json:"cooldown"`
}

type Cooldowns struct {
	SkillA int `json:"skillA"`
	SkillB int `json:"skillB"`
}

// BattleUnit is one roachy on a team. ID is stable across snapshots.
type BattleUnit struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Class     string    `json:"class"`
	HP        int       `json:"hp"`
	MaxHP     int       `json:"maxHp"`
	Atk       int       `json:"atk"`
	Def       int       `json:"def"`
	Spd       int       `json:"spd"`
	IsAlive   bool      `json:"isAlive"`
	SkillA    Skill     `json:"skillA"`
	SkillB    Skill     `json:"skillB"`
	Cooldowns Cooldowns `json:"cooldowns"`
}

type RoachyAction struct {
	RoachyID   string     `json:"roachyId"`
	ActionType ActionType `json:"actionType"`
	TargetID   string     `json:"targetId,omitempty"`
}

type EventKind string

const (
	EventDamage   EventKind = "DAMAGE"
	EventHeal     EventKind = "HEAL"
	EventKnockout EventKind = "KO"
)

type Side string

const (
	SidePlayer   Side = "player"
	SideOpponent Side = "opponent"
)

type CombatEvent struct {
	Kind     EventKind `json:"kind"`
	Side     Side      `json:"side"`
	UnitID   string    `json:"unitId"`
	UnitName string    `json:"unitName"`
	Amount   int       `json:"amount,omitempty"` // zero for KO
	Turn     int       `json:"turn"`
}

type ReplayItem struct {
	Seq   uint64      `json:"seq"`
	Event CombatEvent `json:"event"`
	At    time.Time   `json:"at"`
}

type SubmissionSource string

const (
	SourceManual SubmissionSource = "manual"
	SourceAuto   SubmissionSource = "auto"
)

// TurnSubmission is a journal row for one submit-turn attempt.
type TurnSubmission struct {
	ID        string           `json:"id"` // nanoid
	MatchID   string           `json:"matchId"`
	PlayerID  string           `json:"playerId"`
	Turn      int              `json:"turn"`
	Source    SubmissionSource `json:"source"`
	Actions   []RoachyAction   `json:"actions"`
	Status    string           `json:"status"` // "ok" or "failed"
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

type MatchOutcome struct {
	MatchID    string    `json:"matchId"`
	PlayerID   string    `json:"playerId"`
	OpponentID string    `json:"opponentId"`
	Winner     string    `json:"winner"`
	WinReason  string    `json:"winReason"`
	Turns      int       `json:"turns"`
	Forfeited  bool      `json:"forfeited"`
	FinishedAt time.Time `json:"finishedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

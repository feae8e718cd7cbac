// Package normalize turns the loosely typed server match payload into a
// canonical domain.MatchState. Every function here is pure and total: missing
// or malformed fields fall back to the values in Defaults, never to an error.
package normalize

import (
	"fmt"
	"strings"

	"roachy-battlesync/internal/api"
	"roachy-battlesync/internal/constants"
	"roachy-battlesync/internal/domain"
)

// DefaultTable lists the fallback for every field the server may omit.
type DefaultTable struct {
	HP             int
	Atk            int
	Def            int
	Spd            int
	SkillACooldown int
	SkillBCooldown int
	Turn           int
	MaxTurns       int
	TurnTimeLeft   int
	UnitName       string
	UnitClass      string
	SkillAName     string
	SkillBName     string
}

var Defaults = DefaultTable{
	HP:             100,
	Atk:            10,
	Def:            5,
	Spd:            10,
	SkillACooldown: 2,
	SkillBCooldown: 3,
	Turn:           1,
	MaxTurns:       8,
	TurnTimeLeft:   constants.TurnDurationSecs,
	UnitName:       "Roachy",
	UnitClass:      "balanced",
	SkillAName:     "Skill A",
	SkillBName:     "Skill B",
}

var statusPhases = map[string]domain.Phase{
	"team_select": domain.PhaseSelection,
	"active":      domain.PhaseSelection,
	"completed":   domain.PhaseFinished,
	"forfeited":   domain.PhaseFinished,
}

// Phase maps a server status onto the client phase. The server never reports
// resolution; unknown statuses are treated as selection.
func Phase(status string) domain.Phase {
	if p, ok := statusPhases[strings.ToLower(strings.TrimSpace(status))]; ok {
		return p
	}
	return domain.PhaseSelection
}

// Match builds the canonical state from the point of view of playerID.
func Match(matchID string, raw *api.RawMatch, playerID string) domain.MatchState {
	if raw == nil {
		raw = &api.RawMatch{}
	}
	if raw.ID != "" {
		matchID = raw.ID
	}

	mine, theirs := raw.Player1, raw.Player2
	if raw.Player2 != nil && raw.Player2.PlayerID == playerID && (raw.Player1 == nil || raw.Player1.PlayerID != playerID) {
		mine, theirs = raw.Player2, raw.Player1
	}

	phase := Phase(raw.Status)
	if raw.Winner != "" {
		phase = domain.PhaseFinished
	}

	state := domain.MatchState{
		MatchID:        matchID,
		Turn:           atLeast(raw.CurrentTurn.Or(Defaults.Turn), 1),
		MaxTurns:       atLeast(raw.MaxTurns.Or(Defaults.MaxTurns), 1),
		Phase:          phase,
		Player:         Player(mine, "p1", false),
		Opponent:       Player(theirs, "p2", raw.IsAgainstBot),
		TurnTimeLeft:   atLeast(raw.TurnTimeLeft.Or(Defaults.TurnTimeLeft), 0),
		Winner:         raw.Winner,
		WinReason:      raw.WinReason,
		LastTurnEvents: raw.LastTurnEvents,
	}
	return state
}

// Player normalizes one side. fallbackID seeds unit ids when the side has no
// player id either.
func Player(raw *api.RawPlayer, fallbackID string, isBot bool) domain.PlayerState {
	if raw == nil {
		return domain.PlayerState{PlayerID: "", Team: []domain.BattleUnit{}, IsBot: isBot}
	}

	owner := raw.PlayerID
	if owner == "" {
		owner = fallbackID
	}

	team := make([]domain.BattleUnit, 0, len(raw.Team))
	for i, u := range raw.Team {
		team = append(team, Unit(u, fmt.Sprintf("%s-%d", owner, i)))
	}

	return domain.PlayerState{
		PlayerID:  raw.PlayerID,
		Team:      team,
		Momentum:  clamp(raw.Momentum.Or(0), 0, constants.MomentumCap),
		Knockouts: atLeast(raw.KOs.Or(0), 0),
		IsBot:     isBot || raw.IsBot,
	}
}

// Unit normalizes one battle unit. fallbackID is used when the payload has no id.
func Unit(raw api.RawUnit, fallbackID string) domain.BattleUnit {
	var stats api.RawStats
	if raw.Stats != nil {
		stats = *raw.Stats
	}

	maxHP := raw.MaxHP.Or(stats.HP.Or(Defaults.HP))
	if maxHP <= 0 {
		maxHP = Defaults.HP
	}
	hp := clamp(raw.HP.Or(maxHP), 0, maxHP)

	alive := hp > 0
	if raw.IsAlive != nil && !*raw.IsAlive {
		alive = false
	}

	unit := domain.BattleUnit{
		ID:      orString(raw.ID, fallbackID),
		Name:    orString(raw.Name, Defaults.UnitName),
		Class:   orString(raw.Class, Defaults.UnitClass),
		HP:      hp,
		MaxHP:   maxHP,
		Atk:     raw.Atk.Or(stats.Atk.Or(Defaults.Atk)),
		Def:     raw.Def.Or(stats.Def.Or(Defaults.Def)),
		Spd:     raw.Spd.Or(stats.Spd.Or(Defaults.Spd)),
		IsAlive: alive,
		SkillA:  skill(raw.SkillA, Defaults.SkillAName, Defaults.SkillACooldown),
		SkillB:  skill(raw.SkillB, Defaults.SkillBName, Defaults.SkillBCooldown),
	}
	if raw.Cooldowns != nil {
		unit.Cooldowns = domain.Cooldowns{
			SkillA: atLeast(raw.Cooldowns.SkillA.Or(0), 0),
			SkillB: atLeast(raw.Cooldowns.SkillB.Or(0), 0),
		}
	}
	return unit
}

func skill(raw *api.RawSkill, name string, cooldown int) domain.Skill {
	if raw == nil {
		return domain.Skill{Name: name, Cooldown: cooldown}
	}
	return domain.Skill{
		Name:     orString(raw.Name, name),
		Cooldown: atLeast(raw.Cooldown.Or(cooldown), 0),
	}
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func atLeast(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}

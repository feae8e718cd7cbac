package engine

import (
	"github.com/rs/zerolog"

	"roachy-battlesync/internal/domain"
)

func roach(id, name string, hp int) domain.BattleUnit {
	return domain.BattleUnit{
		ID:      id,
		Name:    name,
		HP:      hp,
		MaxHP:   100,
		IsAlive: hp > 0,
		SkillA:  domain.Skill{Name: "Acid Spit", Cooldown: 2},
		SkillB:  domain.Skill{Name: "Shell Up", Cooldown: 3},
	}
}

func matchState(turn int) domain.MatchState {
	return domain.MatchState{
		MatchID:  "m1",
		Turn:     turn,
		MaxTurns: 8,
		Phase:    domain.PhaseSelection,
		Player: domain.PlayerState{
			PlayerID: "p1",
			Momentum: 40,
			Team: []domain.BattleUnit{
				roach("r1", "Skitter", 100),
				roach("r2", "Crunch", 80),
				roach("r3", "Glimmer", 60),
			},
		},
		Opponent: domain.PlayerState{
			PlayerID: "p2",
			Team: []domain.BattleUnit{
				roach("e1", "Rust", 0),
				roach("e2", "Bolt", 70),
				roach("e3", "Mire", 90),
			},
		},
		TurnTimeLeft: 10,
	}
}

func newEngine() *Engine {
	return New("p1", zerolog.Nop())
}

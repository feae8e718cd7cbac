package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexInt accepts a JSON number, a numeric string or null. Set is false when
// the field was absent, null or unparsable so callers can apply defaults.
type FlexInt struct {
	Value int
	Set   bool
}

func Int(v int) FlexInt { return FlexInt{Value: v, Set: true} }

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = FlexInt{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = FlexInt{}
			return nil
		}
		data = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		*f = FlexInt{}
		return nil
	}
	*f = FlexInt{Value: toInt(math.Round(n)), Set: true}
	return nil
}

// toInt saturates instead of wrapping on values outside the int range.
func toInt(n float64) int {
	switch {
	case n >= math.MaxInt:
		return math.MaxInt
	case n <= math.MinInt:
		return math.MinInt
	}
	return int(n)
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(f.Value)), nil
}

// Or returns the value when present, else fallback.
func (f FlexInt) Or(fallback int) int {
	if f.Set {
		return f.Value
	}
	return fallback
}

func (f FlexInt) String() string {
	if !f.Set {
		return "<unset>"
	}
	return fmt.Sprint(f.Value)
}

type MatchResponse struct {
	Success bool      `json:"success"`
	Match   *RawMatch `json:"match"`
	Error   string    `json:"error,omitempty"`
}

type RawMatch struct {
	ID             string            `json:"id,omitempty" jsonschema:"description=Match id echoed by the server"`
	Status         string            `json:"status" jsonschema:"enum=team_select,enum=active,enum=completed,enum=forfeited"`
	CurrentTurn    FlexInt           `json:"currentTurn"`
	MaxTurns       FlexInt           `json:"maxTurns,omitempty"`
	TurnTimeLeft   FlexInt           `json:"turnTimeLeft,omitempty"`
	Player1        *RawPlayer        `json:"player1"`
	Player2        *RawPlayer        `json:"player2"`
	Winner         string            `json:"winner,omitempty"`
	WinReason      string            `json:"winReason,omitempty"`
	IsAgainstBot   bool              `json:"isAgainstBot,omitempty"`
	LastTurnEvents []json.RawMessage `json:"lastTurnEvents,omitempty"`
}

type RawPlayer struct {
	PlayerID    string    `json:"playerId"`
	Momentum    FlexInt   `json:"momentum"`
	KOs         FlexInt   `json:"kos"`
	Team        []RawUnit `json:"team"`
	ActiveIndex FlexInt   `json:"activeIndex"`
	IsBot       bool      `json:"isBot,omitempty"`
}

type RawUnit struct {
	ID        string        `json:"id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Class     string        `json:"class,omitempty"`
	HP        FlexInt       `json:"hp"`
	MaxHP     FlexInt       `json:"maxHp"`
	Atk       FlexInt       `json:"atk"`
	Def       FlexInt       `json:"def"`
	Spd       FlexInt       `json:"spd"`
	Stats     *RawStats     `json:"stats,omitempty"`
	IsAlive   *bool         `json:"isAlive,omitempty"`
	SkillA    *RawSkill     `json:"skillA,omitempty"`
	SkillB    *RawSkill     `json:"skillB,omitempty"`
	Cooldowns *RawCooldowns `json:"cooldowns,omitempty"`
}

type RawStats struct {
	HP  FlexInt `json:"hp"`
	Atk FlexInt `json:"atk"`
	Def FlexInt `json:"def"`
	Spd FlexInt `json:"spd"`
}

type RawSkill struct {
	Name     string  `json:"name,omitempty"`
	Cooldown FlexInt `json:"cooldown"`
}

type RawCooldowns struct {
	SkillA FlexInt `json:"skillA"`
	SkillB FlexInt `json:"skillB"`
}

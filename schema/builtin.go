package schema

import (
	"fmt"
	"strconv"
)

// Built-in schema ids.
const (
	MatchResultV1 = "match-result/v1"
	TurnBasedV1   = "turn-based/v1"
	CardGameV1    = "card-game/v1"
)

// Builtin returns a Registry preloaded with the stock result formats.
func Builtin() *Registry {
	r := NewRegistry()
	for _, s := range []*Schema{
		{
			ID:   MatchResultV1,
			Name: "Two-sided match result",
			Fields: []Field{
				{Name: "winner", Kind: KindString, Required: true},
				{Name: "home_score", Kind: KindUint, Required: true},
				{Name: "away_score", Kind: KindUint, Required: true},
				{Name: "duration_sec", Kind: KindUint},
			},
			Check: checkMatchResult,
		},
		{
			ID:   TurnBasedV1,
			Name: "Turn-based game outcome",
			Fields: []Field{
				{Name: "winner", Kind: KindString, Required: true},
				{Name: "turns", Kind: KindUint, Required: true},
				{Name: "draw", Kind: KindBool},
			},
		},
		{
			ID:   CardGameV1,
			Name: "Card game hand result",
			Fields: []Field{
				{Name: "winner", Kind: KindString, Required: true},
				{Name: "pot", Kind: KindUint, Required: true},
				{Name: "net", Kind: KindInt},
				{Name: "hand", Kind: KindString},
			},
		},
	} {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// checkMatchResult requires winner to agree with the score line.
func checkMatchResult(f map[string]string) error {
	home, _ := strconv.ParseUint(f["home_score"], 10, 64)
	away, _ := strconv.ParseUint(f["away_score"], 10, 64)
	var want string
	switch {
	case home > away:
		want = "home"
	case away > home:
		want = "away"
	default:
		want = "draw"
	}
	if f["winner"] != want {
		return fmt.Errorf("winner %q contradicts score %d-%d", f["winner"], home, away)
	}
	return nil
}

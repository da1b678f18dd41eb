package spybois

import (
	"math/rand"
	"strings"
	"testing"
)

func TestTeamsReady(t *testing.T) {
	leader1, leader2 := PlayerID("a"), PlayerID("b")

	tests := []struct {
		desc  string
		teams Teams
		want  bool
	}{
		{desc: "empty", teams: Teams{}, want: false},
		{
			desc:  "leaders only",
			teams: Teams{Team1LeaderID: &leader1, Team2LeaderID: &leader2},
			want:  false,
		},
		{
			desc: "agents only",
			teams: Teams{
				Team1AgentIDs: []PlayerID{"c"},
				Team2AgentIDs: []PlayerID{"d"},
			},
			want: false,
		},
		{
			desc: "one team full",
			teams: Teams{
				Team1LeaderID: &leader1,
				Team1AgentIDs: []PlayerID{"c", "d"},
			},
			want: false,
		},
		{
			desc: "both teams full",
			teams: Teams{
				Team1LeaderID: &leader1,
				Team1AgentIDs: []PlayerID{"c"},
				Team2LeaderID: &leader2,
				Team2AgentIDs: []PlayerID{"d"},
			},
			want: true,
		},
	}

	for _, tc := range tests {
		if got := tc.teams.Ready(); got != tc.want {
			t.Errorf("%s: Ready() = %t, want %t", tc.desc, got, tc.want)
		}
	}
}

func TestTeamsMembership(t *testing.T) {
	leader := PlayerID("a")
	teams := Teams{
		Team1LeaderID: &leader,
		Team2AgentIDs: []PlayerID{"b"},
	}

	if !teams.OnTeam("a") || !teams.OnTeam("b") {
		t.Error("rostered players should be on a team")
	}
	if teams.OnTeam("z") {
		t.Error("unrostered player should not be on a team")
	}
	if !teams.OnSpecificTeam("a", Team1) || teams.OnSpecificTeam("a", Team2) {
		t.Error("leader should be on team1 only")
	}
	if got := teams.RoleOn("b", Team2); got != Agent {
		t.Errorf("RoleOn(b, team2) = %q, want %q", got, Agent)
	}
	if !teams.IsLeader("a") || teams.IsLeader("b") {
		t.Error("only the leader slot should report leadership")
	}
}

func TestRandomGameID(t *testing.T) {
	r := rand.New(rand.NewSource(17))
	for i := 0; i < 10; i++ {
		id := string(RandomGameID(r))
		if id == "" {
			t.Fatal("empty game id")
		}
		if strings.Contains(id, "_") {
			t.Errorf("game id %q should have camel-cased its words", id)
		}
		if id[0] < 'A' || id[0] > 'Z' {
			t.Errorf("game id %q should start with an uppercase letter", id)
		}
	}
}

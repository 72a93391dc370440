package engine

import (
	"errors"
	"slices"
	"testing"
)

func rolePtr(r Role) *Role { return &r }

// every subset of the non-spectator roles, in every precedence-respecting order
func heldSubsets() [][]Role {
	var out [][]Role
	for mask := 0; mask < 1<<len(RoleOrder); mask++ {
		var held []Role
		for i, r := range RoleOrder {
			if mask&(1<<i) != 0 {
				held = append(held, r)
			}
		}
		out = append(out, held)
	}
	return out
}

func TestResolveRole_AllSubsets(t *testing.T) {
	prefs := []*Role{nil, rolePtr(RoleAdvocateFor), rolePtr(RoleAdvocateAgainst), rolePtr(RoleAdjudicator)}

	for _, held := range heldSubsets() {
		for _, pref := range prefs {
			got := ResolveRole(held, pref)

			if got != RoleSpectator && slices.Contains(held, got) {
				t.Fatalf("held=%v pref=%v: got already-held role %s", held, pref, got)
			}
			full := len(held) == len(RoleOrder)
			if (got == RoleSpectator) != full {
				t.Fatalf("held=%v pref=%v: got %s, full=%v", held, pref, got, full)
			}
			if pref != nil && !slices.Contains(held, *pref) && got != *pref {
				t.Fatalf("held=%v: available preference %s not honoured, got %s", held, *pref, got)
			}
		}
	}
}

func TestResolveRole_Precedence(t *testing.T) {
	cases := []struct {
		name      string
		held      []Role
		preferred *Role
		want      Role
	}{
		{name: "empty session, no preference", held: nil, want: RoleAdvocateFor},
		{name: "next available after advocate-for", held: []Role{RoleAdvocateFor}, want: RoleAdvocateAgainst},
		{name: "taken preference falls back", held: []Role{RoleAdvocateFor}, preferred: rolePtr(RoleAdvocateFor), want: RoleAdvocateAgainst},
		{name: "adjudicator preference honoured", held: []Role{RoleAdvocateFor, RoleAdvocateAgainst}, preferred: rolePtr(RoleAdjudicator), want: RoleAdjudicator},
		{name: "full session", held: []Role{RoleAdjudicator, RoleAdvocateFor, RoleAdvocateAgainst}, preferred: rolePtr(RoleAdjudicator), want: RoleSpectator},
		{name: "explicit spectator", held: nil, preferred: rolePtr(RoleSpectator), want: RoleSpectator},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveRole(tc.held, tc.preferred)
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRolesWithin_AlwaysOffersAdjudicator(t *testing.T) {
	cases := []struct {
		capacity int
		want     []Role
	}{
		{capacity: 1, want: []Role{RoleAdjudicator}},
		{capacity: 2, want: []Role{RoleAdvocateFor, RoleAdjudicator}},
		{capacity: 3, want: RoleOrder},
		{capacity: 0, want: RoleOrder},
		{capacity: 9, want: RoleOrder},
	}
	for _, tc := range cases {
		if got := RolesWithin(tc.capacity); !slices.Equal(got, tc.want) {
			t.Fatalf("capacity %d: got %v, want %v", tc.capacity, got, tc.want)
		}
	}
}

func TestResolveRoleWithin_Capacity(t *testing.T) {
	got := ResolveRoleWithin(nil, rolePtr(RoleAdjudicator), 2)
	if got != RoleAdjudicator {
		t.Fatalf("capacity 2: adjudicator preference, got %s", got)
	}
	got = ResolveRoleWithin([]Role{RoleAdjudicator}, rolePtr(RoleAdvocateAgainst), 2)
	if got != RoleAdvocateFor {
		t.Fatalf("capacity 2: advocate-against is not offered, got %s", got)
	}
	got = ResolveRoleWithin([]Role{RoleAdvocateFor}, nil, 2)
	if got != RoleAdjudicator {
		t.Fatalf("capacity 2: second seat is the adjudicator, got %s", got)
	}
	got = ResolveRoleWithin([]Role{RoleAdvocateFor, RoleAdjudicator}, nil, 2)
	if got != RoleSpectator {
		t.Fatalf("capacity 2 full: got %s, want spectator", got)
	}
	got = ResolveRoleWithin(nil, nil, 1)
	if got != RoleAdjudicator {
		t.Fatalf("capacity 1: got %s, want adjudicator", got)
	}
}

func TestNext_FollowsOrderAndClamps(t *testing.T) {
	for i, p := range PhaseOrder[:len(PhaseOrder)-1] {
		if got := Next(p); got != PhaseOrder[i+1] {
			t.Fatalf("Next(%s) = %s, want %s", p, got, PhaseOrder[i+1])
		}
	}
	if got := Next(PhaseCompleted); got != PhaseCompleted {
		t.Fatalf("Next(completed) = %s", got)
	}
}

func TestAdvance_RequiresAdjudicator(t *testing.T) {
	for _, role := range []Role{RoleAdvocateFor, RoleAdvocateAgainst, RoleSpectator} {
		_, err := Advance(PhaseEvidencePresentation, role)
		if !errors.Is(err, ErrNotAuthorized) {
			t.Fatalf("role %s: want ErrNotAuthorized, got %v", role, err)
		}
	}

	tr, err := Advance(PhaseEvidencePresentation, RoleAdjudicator)
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if tr.To != PhaseWitnessExamination {
		t.Fatalf("want witness_examination, got %s", tr.To)
	}
}

func TestAdvance_FromCompletedIsInvalid(t *testing.T) {
	_, err := Advance(PhaseCompleted, RoleAdjudicator)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestAdvance_Effects(t *testing.T) {
	cases := []struct {
		from Phase
		want []Effect
	}{
		{from: PhaseClosingArguments, want: []Effect{EffectEvaluateVerdict}},
		{from: PhaseDeliberation, want: []Effect{EffectRequireVerdict}},
		{from: PhaseVerdict, want: []Effect{EffectDeactivate}},
		{from: PhaseLobby, want: nil},
	}
	for _, tc := range cases {
		tr, err := Advance(tc.from, RoleAdjudicator)
		if err != nil {
			t.Fatalf("%s: unexpected err %v", tc.from, err)
		}
		if !slices.Equal(tr.Effects, tc.want) {
			t.Fatalf("%s: effects %v, want %v", tc.from, tr.Effects, tc.want)
		}
	}
}

func TestAbandon(t *testing.T) {
	tr, err := Abandon(PhaseWitnessExamination)
	if err != nil || tr.To != PhaseCompleted || !tr.Has(EffectDeactivate) {
		t.Fatalf("got %+v, %v", tr, err)
	}
	if _, err := Abandon(PhaseCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestAllowed(t *testing.T) {
	cases := []struct {
		name   string
		phase  Phase
		role   Role
		action Action
		ok     bool
	}{
		{"argument in openings", PhaseOpeningStatements, RoleAdvocateFor, ActionArgument, true},
		{"argument in closings", PhaseClosingArguments, RoleAdvocateAgainst, ActionArgument, true},
		{"evidence in evidence phase", PhaseEvidencePresentation, RoleAdvocateFor, ActionEvidence, true},
		{"question during witnesses", PhaseWitnessExamination, RoleAdvocateAgainst, ActionQuestion, true},
		{"evidence during openings", PhaseOpeningStatements, RoleAdvocateFor, ActionEvidence, false},
		{"adjudicator cannot argue", PhaseOpeningStatements, RoleAdjudicator, ActionArgument, false},
		{"spectator cannot ask", PhaseWitnessExamination, RoleSpectator, ActionQuestion, false},
		{"nothing in lobby", PhaseLobby, RoleAdvocateFor, ActionArgument, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Allowed(tc.phase, tc.role, tc.action)
			if tc.ok && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrActionNotAllowed) {
				t.Fatalf("want ErrActionNotAllowed, got %v", err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	if _, err := ParsePhase("recess"); !errors.Is(err, ErrUnknownPhase) {
		t.Fatalf("want ErrUnknownPhase, got %v", err)
	}
	if r, err := ParseRole("adjudicator"); err != nil || r != RoleAdjudicator {
		t.Fatalf("got %s, %v", r, err)
	}
	if !Behind(PhaseLobby, PhaseVerdict) || Behind(PhaseVerdict, PhaseVerdict) {
		t.Fatalf("Behind ordering broken")
	}
}

package mixer

import (
	"encoding/json"
	"math"
	"testing"
)

func findGroup(groups []SessionGroup, id GroupID) (SessionGroup, bool) {
	for _, g := range groups {
		if g.ID == id {
			return g, true
		}
	}
	return SessionGroup{}, false
}

func TestAggregateSessionsSharedGroup(t *testing.T) {
	sessions := []RawSession{
		{ProcessID: 1200, GroupID: "G1", Volume: 0.40, Muted: false, State: SessionActive},
		{ProcessID: 1200, GroupID: "G1", Volume: 0.60, Muted: true, State: SessionInactive},
	}

	groups := AggregateSessions(sessions, fakeNamer{1200: "firefox"})

	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}

	g := groups[0]
	if g.ID != "G1" {
		t.Errorf("ID = %q, want %q", g.ID, "G1")
	}
	if math.Abs(float64(g.VolumeLevel)-50.0) > 1e-4 {
		t.Errorf("VolumeLevel = %v, want 50.0", g.VolumeLevel)
	}
	if !g.Muted {
		t.Error("Muted = false, want true")
	}
	if g.State != SessionActive {
		t.Errorf("State = %v, want %v", g.State, SessionActive)
	}
	if g.DisplayName != "firefox" {
		t.Errorf("DisplayName = %q, want %q", g.DisplayName, "firefox")
	}
}

func TestAggregateSessionsCardinality(t *testing.T) {
	sessions := []RawSession{
		{ProcessID: 10, GroupID: "a", Volume: 0.1},
		{ProcessID: 11, GroupID: "b", Volume: 0.2},
		{ProcessID: 10, GroupID: "a", Volume: 0.3},
		{ProcessID: 12, GroupID: "c", Volume: 0.4},
		{ProcessID: 13, GroupID: "d", Volume: 0.5},
	}

	groups := AggregateSessions(sessions, nil)

	if len(groups) != 4 {
		t.Fatalf("got %d groups, want 4 (one per distinct group id)", len(groups))
	}

	seen := map[GroupID]bool{}
	for _, g := range groups {
		if seen[g.ID] {
			t.Errorf("group %q appears twice", g.ID)
		}
		seen[g.ID] = true
	}
}

func TestAggregateSessionsEmpty(t *testing.T) {
	groups := AggregateSessions(nil, nil)

	if groups == nil {
		t.Fatal("AggregateSessions(nil) = nil, want an empty slice")
	}
	if len(groups) != 0 {
		t.Errorf("got %d groups, want 0", len(groups))
	}

	// an empty list must encode as [] and not null
	data, err := json.Marshal(groups)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("Marshal = %s, want []", data)
	}
}

func TestAggregateSessionsVolume(t *testing.T) {
	nan := float32(math.NaN())

	tests := []struct {
		name    string
		volumes []float32
		want    float32
	}{
		{"single", []float32{0.25}, 25},
		{"mean", []float32{0.2, 0.4, 0.9}, 50},
		{"NaN ignored", []float32{0.3, nan, 0.5}, 40},
		{"all NaN", []float32{nan, nan}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := make([]RawSession, 0, len(tt.volumes))
			for _, v := range tt.volumes {
				sessions = append(sessions, RawSession{ProcessID: 5, GroupID: "g", Volume: v})
			}

			groups := AggregateSessions(sessions, nil)
			if len(groups) != 1 {
				t.Fatalf("got %d groups, want 1", len(groups))
			}

			got := groups[0].VolumeLevel
			if math.IsNaN(float64(got)) {
				t.Fatalf("VolumeLevel is NaN")
			}
			if math.Abs(float64(got-tt.want)) > 1e-4 {
				t.Errorf("VolumeLevel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregateSessionsMutedAndState(t *testing.T) {
	tests := []struct {
		name      string
		muted     []bool
		states    []SessionState
		wantMuted bool
		wantState SessionState
	}{
		{"none muted", []bool{false, false}, []SessionState{SessionInactive, SessionInactive}, false, SessionInactive},
		{"one muted", []bool{false, true}, []SessionState{SessionInactive, SessionActive}, true, SessionActive},
		{"expired counts as not active", []bool{true, true}, []SessionState{SessionExpired, SessionInactive}, true, SessionInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sessions []RawSession
			for i := range tt.muted {
				sessions = append(sessions, RawSession{
					ProcessID: 7,
					GroupID:   "g",
					Volume:    0.5,
					Muted:     tt.muted[i],
					State:     tt.states[i],
				})
			}

			groups := AggregateSessions(sessions, nil)
			if len(groups) != 1 {
				t.Fatalf("got %d groups, want 1", len(groups))
			}

			if groups[0].Muted != tt.wantMuted {
				t.Errorf("Muted = %v, want %v", groups[0].Muted, tt.wantMuted)
			}
			if groups[0].State != tt.wantState {
				t.Errorf("State = %v, want %v", groups[0].State, tt.wantState)
			}
		})
	}
}

func TestAggregateSessionsDisplayName(t *testing.T) {
	sessions := []RawSession{
		{ProcessID: 0, GroupID: "system", Volume: 1},
		{ProcessID: 4242, GroupID: "known", Volume: 1},
		{ProcessID: 999, GroupID: "gone", Volume: 1},
		{ProcessID: UnknownProcessID, GroupID: "unresolved", Volume: 1},
	}

	groups := AggregateSessions(sessions, fakeNamer{4242: "spotify"})

	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3 (the unresolved pid is dropped)", len(groups))
	}

	want := map[GroupID]string{
		"system": systemSessionDisplayName,
		"known":  "spotify",
		"gone":   "PID 999",
	}

	for id, name := range want {
		g, ok := findGroup(groups, id)
		if !ok {
			t.Errorf("group %q missing", id)
			continue
		}
		if g.DisplayName != name {
			t.Errorf("group %q DisplayName = %q, want %q", id, g.DisplayName, name)
		}
	}

	if _, ok := findGroup(groups, "unresolved"); ok {
		t.Error("group with unknown pid should be dropped")
	}
}

func TestSessionGroupWireRoundTrip(t *testing.T) {
	group := SessionGroup{
		ID:          "0A1B2C3D-0000-1111-2222-333344445555",
		DisplayName: "chrome",
		VolumeLevel: 37.5,
		State:       SessionActive,
		Muted:       true,
	}

	data, err := json.Marshal(group)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var wire map[string]interface{}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	for _, key := range []string{"id", "display_name", "volume_level", "state", "muted"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("wire form lacks %q: %s", key, data)
		}
	}

	var decoded SessionGroup
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	if decoded != group {
		t.Errorf("round trip = %+v, want %+v", decoded, group)
	}
}

package room

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func f64(v float64) *float64 { return &v }
func flag(v bool) *bool      { return &v }
func str(v string) *string   { return &v }

func TestStore_JoinCreatesRoom(t *testing.T) {
	s := NewStore()
	members := s.Join("lobby2", "c", "Carol")

	assert.Equal(t, []Member{{ID: "c", Name: "Carol"}}, members)
	assert.True(t, s.Has("lobby2"))
	assert.Equal(t, 1, s.Len())
}

func TestStore_JoinKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")
	s.Join("main", "b", "Bob")
	members := s.Join("main", "c", "Carol")

	assert.Equal(t, []Member{
		{ID: "a", Name: "Alice"},
		{ID: "b", Name: "Bob"},
		{ID: "c", Name: "Carol"},
	}, members)
}

func TestStore_DuplicateJoinOnlyRenames(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")
	s.Join("main", "b", "Bob")
	members := s.Join("main", "a", "Alicia")

	assert.Equal(t, []Member{
		{ID: "a", Name: "Alicia"},
		{ID: "b", Name: "Bob"},
	}, members)
}

func TestStore_DuplicateJoinRenamesStoredSnapshot(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")
	_, ok := s.MergeState("main", "a", Patch{X: f64(1)})
	require.True(t, ok)

	s.Join("main", "a", "Alicia")
	assert.Equal(t, "Alicia", s.State("main")["a"].Name)
}

func TestStore_LeaveRemovesMemberAndState(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")
	s.Join("main", "b", "Bob")
	_, _ = s.MergeState("main", "b", Patch{X: f64(3)})

	members, outcome := s.Leave("main", "b")
	assert.Equal(t, Left, outcome)
	assert.Equal(t, []Member{{ID: "a", Name: "Alice"}}, members)
	assert.NotContains(t, s.State("main"), "b")
	assert.False(t, s.IsMember("main", "b"))
}

func TestStore_LastLeaveDeletesRoom(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")
	_, _ = s.MergeState("main", "a", Patch{X: f64(1)})

	members, outcome := s.Leave("main", "a")
	assert.Equal(t, Deleted, outcome)
	assert.Nil(t, members)
	assert.False(t, s.Has("main"))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.State("main"))
}

func TestStore_LeaveUnknown(t *testing.T) {
	s := NewStore()
	_, outcome := s.Leave("nowhere", "a")
	assert.Equal(t, NotMember, outcome)

	s.Join("main", "a", "Alice")
	_, outcome = s.Leave("main", "stranger")
	assert.Equal(t, NotMember, outcome)
	assert.Equal(t, []Member{{ID: "a", Name: "Alice"}}, s.Membership("main"))
}

func TestStore_MergeStateIsShallow(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")

	_, ok := s.MergeState("main", "a", Patch{X: f64(1), Y: f64(2), Angle: f64(0)})
	require.True(t, ok)

	snap, ok := s.MergeState("main", "a", Patch{X: f64(5)})
	require.True(t, ok)

	assert.Equal(t, "a", snap.ID)
	assert.Equal(t, "Alice", snap.Name)
	assert.Equal(t, 5.0, *snap.X)
	assert.Equal(t, 2.0, *snap.Y)
	assert.Equal(t, 0.0, *snap.Angle)
	assert.Nil(t, snap.Alive)
}

func TestStore_MergeStateSeedsIdentity(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")

	snap, ok := s.MergeState("main", "a", Patch{Alive: flag(true)})
	require.True(t, ok)
	assert.Equal(t, Snapshot{ID: "a", Name: "Alice", Alive: flag(true)}, snap)
}

func TestStore_MergeStateNameUpdate(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")

	snap, ok := s.MergeState("main", "a", Patch{Name: str("Speedy")})
	require.True(t, ok)
	assert.Equal(t, "Speedy", snap.Name)
}

func TestStore_MergeStateUnknownRoomDoesNotCreate(t *testing.T) {
	s := NewStore()
	_, ok := s.MergeState("ghost", "a", Patch{X: f64(1)})
	assert.False(t, ok)
	assert.False(t, s.Has("ghost"))
}

func TestStore_MergeStateNonMember(t *testing.T) {
	s := NewStore()
	s.Join("main", "a", "Alice")

	_, ok := s.MergeState("main", "b", Patch{X: f64(1)})
	assert.False(t, ok)
	assert.NotContains(t, s.State("main"), "b")
}

func TestStore_MembershipAbsentRoom(t *testing.T) {
	s := NewStore()
	members := s.Membership("ghost")
	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestStore_RosterIsACopy(t *testing.T) {
	s := NewStore()
	members := s.Join("main", "a", "Alice")
	members[0].Name = "Mallory"

	assert.Equal(t, "Alice", s.Membership("main")[0].Name)
}

func TestLeaveOutcomeString(t *testing.T) {
	assert.Equal(t, "not_member", NotMember.String())
	assert.Equal(t, "left", Left.String())
	assert.Equal(t, "deleted", Deleted.String())
}

func TestPatchIsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{Alive: flag(false)}.IsEmpty())
}

// TestPropertyRosterMatchesModel drives random joins, leaves and merges and
// compares the store against a plain ordered-list model after every step.
func TestPropertyRosterMatchesModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore()
		rooms := []string{"main", "lobby2"}
		ids := []string{"a", "b", "c", "d", "e"}
		model := map[string][]Member{}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			roomID := rooms[rapid.IntRange(0, len(rooms)-1).Draw(t, "room")]
			id := ids[rapid.IntRange(0, len(ids)-1).Draw(t, "id")]

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				name := fmt.Sprintf("%s-%d", id, i)
				got := s.Join(roomID, id, name)
				idx := slices.IndexFunc(model[roomID], func(m Member) bool { return m.ID == id })
				if idx >= 0 {
					model[roomID][idx].Name = name
				} else {
					model[roomID] = append(model[roomID], Member{ID: id, Name: name})
				}
				if !slices.Equal(got, model[roomID]) {
					t.Fatalf("join roster %v, want %v", got, model[roomID])
				}
			case 1:
				got, outcome := s.Leave(roomID, id)
				before := len(model[roomID])
				model[roomID] = slices.DeleteFunc(model[roomID], func(m Member) bool { return m.ID == id })
				switch {
				case before == len(model[roomID]):
					if outcome != NotMember {
						t.Fatalf("leave of non-member reported %s", outcome)
					}
				case len(model[roomID]) == 0:
					delete(model, roomID)
					if outcome != Deleted {
						t.Fatalf("last leave reported %s", outcome)
					}
				default:
					if outcome != Left || !slices.Equal(got, model[roomID]) {
						t.Fatalf("leave roster %v (%s), want %v", got, outcome, model[roomID])
					}
				}
			case 2:
				x := rapid.Float64Range(-1000, 1000).Draw(t, "x")
				_, ok := s.MergeState(roomID, id, Patch{X: &x})
				isMember := slices.ContainsFunc(model[roomID], func(m Member) bool { return m.ID == id })
				if ok != isMember {
					t.Fatalf("merge ok=%v for member=%v", ok, isMember)
				}
			}

			for _, r := range rooms {
				if s.Has(r) != (len(model[r]) > 0) {
					t.Fatalf("room %s existence %v disagrees with roster %v", r, s.Has(r), model[r])
				}
				for key := range s.State(r) {
					if !s.IsMember(r, key) {
						t.Fatalf("state of room %s holds non-member %s", r, key)
					}
				}
			}
		}
	})
}

func TestPropertyShallowMergeKeepsUnsetFields(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore()
		s.Join("main", "a", "Alice")

		x := rapid.Float64Range(-1e6, 1e6).Draw(t, "x")
		y := rapid.Float64Range(-1e6, 1e6).Draw(t, "y")
		angle := rapid.Float64Range(-7, 7).Draw(t, "angle")
		_, _ = s.MergeState("main", "a", Patch{X: &x, Y: &y, Angle: &angle})

		nx := rapid.Float64Range(-1e6, 1e6).Draw(t, "nx")
		snap, _ := s.MergeState("main", "a", Patch{X: &nx})
		if *snap.X != nx || *snap.Y != y || *snap.Angle != angle {
			t.Fatalf("merge lost fields: got x=%v y=%v angle=%v", *snap.X, *snap.Y, *snap.Angle)
		}
	})
}

package canvas

import (
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestStore_AddAssignsIDAndAppends(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("el-1", "el-2")))

	id1, err := s.Add(Draft{Kind: KindText, Content: "hello", X: 10, Y: 20})
	require.NoError(t, err)
	id2, err := s.Add(Draft{Kind: KindSticker, Content: "🌸"})
	require.NoError(t, err)

	assert.Equal(t, "el-1", id1)
	assert.Equal(t, "el-2", id2)
	assert.Equal(t, []string{"el-1", "el-2"}, IDs(s.Elements()), "later elements paint on top")

	e, ok := s.Get("el-1")
	require.True(t, ok)
	assert.Equal(t, KindText, e.Kind)
	assert.Equal(t, 10.0, e.X)
	assert.Equal(t, 1.0, e.Scale, "zero scale is stored as 1")
}

func TestStore_AddRejectsInvalid(t *testing.T) {
	s := NewStore()

	_, err := s.Add(Draft{Kind: "hologram"})
	assert.ErrorIs(t, err, ErrInvalidElement)

	_, err = s.Add(Draft{Kind: KindImage, Scale: -1})
	assert.ErrorIs(t, err, ErrInvalidElement)

	assert.Equal(t, 0, s.Len())
}

func TestStore_AddSkipsPreviouslySeenIDs(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("a", "a", "b", "c")))

	s.ReplaceAll([]Element{{ID: "b", Kind: KindText}})
	s.Remove("b")

	id1, err := s.Add(Draft{Kind: KindText})
	require.NoError(t, err)
	id2, err := s.Add(Draft{Kind: KindText})
	require.NoError(t, err)

	assert.Equal(t, "a", id1)
	assert.Equal(t, "c", id2, "duplicate 'a' and remotely seen 'b' must be skipped")
}

func TestStore_AddNeverCollides(t *testing.T) {
	s := NewStore()
	seen := make(map[string]bool)

	for i := 0; i < 500; i++ {
		id, err := s.Add(Draft{Kind: KindStroke, Points: []Point{{X: 1, Y: 2}}})
		require.NoError(t, err)
		require.False(t, seen[id], "id %s issued twice", id)
		seen[id] = true
		if i%3 == 0 {
			s.Remove(id)
		}
	}
}

func TestStore_Update(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("el-1")))
	id, err := s.Add(Draft{Kind: KindText, Content: "a", Style: &Style{Color: "#000"}})
	require.NoError(t, err)

	err = s.Update(id, Patch{
		X:        ptr(5.0),
		Rotation: ptr(90.0),
		Style:    &Style{Color: "#fff", FontSize: 18},
	})
	require.NoError(t, err)

	e, _ := s.Get(id)
	assert.Equal(t, 5.0, e.X)
	assert.Equal(t, 0.0, e.Y, "unpatched fields are kept")
	assert.Equal(t, 90.0, e.Rotation)
	assert.Equal(t, "a", e.Content)
	assert.Equal(t, &Style{Color: "#fff", FontSize: 18}, e.Style)
}

func TestStore_UpdateUnknownID(t *testing.T) {
	s := NewStore()
	err := s.Update("missing", Patch{X: ptr(1.0)})

	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 0, s.Len())
}

func TestStore_UpdateRejectedPatchLeavesElement(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("el-1")))
	id, _ := s.Add(Draft{Kind: KindImage, Content: "/img/1.png", X: 3})

	err := s.Update(id, Patch{X: ptr(99.0), Scale: ptr(-2.0)})
	assert.ErrorIs(t, err, ErrInvalidElement)

	e, _ := s.Get(id)
	assert.Equal(t, 3.0, e.X)
}

func TestStore_ScaleZeroNormalisedToOne(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("el-1")))
	id, err := s.Add(Draft{Kind: KindSticker, Content: "*", Scale: 2})
	require.NoError(t, err)

	require.NoError(t, s.Update(id, Patch{Scale: ptr(0.0)}))
	e, _ := s.Get(id)
	assert.Equal(t, 1.0, e.Scale)

	dropped := s.ReplaceAll([]Element{
		{ID: "A", Kind: KindText},
		{ID: "B", Kind: KindText, Scale: 0.5},
		{ID: "C", Kind: KindText, Scale: -1},
	})
	assert.Equal(t, 1, dropped)
	a, _ := s.Get("A")
	b, _ := s.Get("B")
	assert.Equal(t, 1.0, a.Scale)
	assert.Equal(t, 0.5, b.Scale)
	assert.Equal(t, []string{"A", "B"}, IDs(s.Elements()))
}

func TestStore_RemoveIdempotent(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("el-1", "el-2", "el-3")))
	for i := 0; i < 3; i++ {
		_, err := s.Add(Draft{Kind: KindText})
		require.NoError(t, err)
	}

	assert.True(t, s.Remove("el-2"))
	assert.False(t, s.Remove("el-2"))
	assert.False(t, s.Remove("never-existed"))
	assert.Equal(t, []string{"el-1", "el-3"}, IDs(s.Elements()))

	// Index stays consistent after a middle removal.
	require.NoError(t, s.Update("el-3", Patch{X: ptr(7.0)}))
	e, _ := s.Get("el-3")
	assert.Equal(t, 7.0, e.X)
}

func TestStore_ReplaceAll(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("el-1")))
	_, _ = s.Add(Draft{Kind: KindText})

	dropped := s.ReplaceAll([]Element{
		{ID: "B", Kind: KindSticker, Content: "⭐"},
		{ID: "C", Kind: KindText, Content: "hi"},
		{ID: "B", Kind: KindText, Content: "dup"},
		{ID: "", Kind: KindText},
	})

	assert.Equal(t, 2, dropped)
	assert.Equal(t, []string{"B", "C"}, IDs(s.Elements()), "ids are kept, not reassigned")
	e, _ := s.Get("B")
	assert.Equal(t, "⭐", e.Content, "first occurrence wins")
	_, ok := s.Get("el-1")
	assert.False(t, ok)
}

func TestStore_ReplaceAllCopiesInput(t *testing.T) {
	s := NewStore()
	in := []Element{{ID: "A", Kind: KindStroke, Points: []Point{{X: 1, Y: 1}}}}
	s.ReplaceAll(in)

	in[0].Points[0].X = 42
	e, _ := s.Get("A")
	assert.Equal(t, 1.0, e.Points[0].X)
}

func TestStore_ClearKeepsIDsReserved(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("el-1", "el-1", "el-2")))
	_, _ = s.Add(Draft{Kind: KindText})
	s.Clear()
	assert.Equal(t, 0, s.Len())

	id, err := s.Add(Draft{Kind: KindText})
	require.NoError(t, err)
	assert.Equal(t, "el-2", id)
}

func TestStore_ElementsIsACopy(t *testing.T) {
	s := NewStore()
	id, _ := s.Add(Draft{Kind: KindText, Style: &Style{Color: "red"}})

	out := s.Elements()
	out[0].Style.Color = "blue"
	out[0].X = 100

	e, _ := s.Get(id)
	assert.Equal(t, "red", e.Style.Color)
	assert.Equal(t, 0.0, e.X)
}

func TestStore_TextIsNFCNormalized(t *testing.T) {
	s := NewStore()
	decomposed := "Cafe\u0301"

	id, err := s.Add(Draft{Kind: KindText, Content: decomposed})
	require.NoError(t, err)
	e, _ := s.Get(id)
	assert.Equal(t, "Caf\u00e9", e.Content)

	img, err := s.Add(Draft{Kind: KindImage, Content: decomposed})
	require.NoError(t, err)
	e, _ = s.Get(img)
	assert.Equal(t, decomposed, e.Content, "image references are left untouched")
}

func TestStore_Snapshot(t *testing.T) {
	s := NewStore(WithIDGenerator(newFixedIDs("el-1")))
	_, _ = s.Add(Draft{Kind: KindText, Content: "x"})
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	snap := s.Snapshot(at, "u1")
	assert.Equal(t, at, snap.LastUpdated)
	assert.Equal(t, "u1", snap.UserID)
	assert.Equal(t, []string{"el-1"}, IDs(snap.Elements))
}

func TestSnapshot_Hash(t *testing.T) {
	a := Snapshot{Elements: []Element{{ID: "1", Kind: KindText, Content: "x"}}}
	b := Snapshot{Elements: []Element{{ID: "1", Kind: KindText, Content: "x"}}, UserID: "other"}
	c := Snapshot{Elements: []Element{{ID: "1", Kind: KindText, Content: "y"}}}

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, _ := b.Hash()
	hc, _ := c.Hash()

	assert.Equal(t, ha, hb, "author does not affect the element hash")
	assert.NotEqual(t, ha, hc)

	empty, _ := Snapshot{}.Hash()
	alsoEmpty, _ := Snapshot{Elements: []Element{}}.Hash()
	assert.Equal(t, empty, alsoEmpty)
}

// op is one step of a randomly generated mutation sequence.
type op struct {
	kind  int // 0 add, 1 update, 2 remove
	id    string
	draft Draft
	patch Patch
}

// replay applies ops to a fresh store seeded with the same id sequence.
func replay(ops []op, ids []string) []Element {
	s := NewStore(WithIDGenerator(newFixedIDs(ids...)))
	for _, o := range ops {
		switch o.kind {
		case 0:
			_, _ = s.Add(o.draft)
		case 1:
			_ = s.Update(o.id, o.patch)
		case 2:
			s.Remove(o.id)
		}
	}
	return s.Elements()
}

func TestStore_DeterministicReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		var ops []op
		var ids []string
		var live []string
		for i := 0; i < 60; i++ {
			switch k := rng.Intn(3); {
			case k == 0 || len(live) == 0:
				id := "el-" + strconv.Itoa(round) + "-" + strconv.Itoa(i)
				ids = append(ids, id)
				live = append(live, id)
				ops = append(ops, op{kind: 0, draft: Draft{Kind: KindText, X: float64(i)}})
			case k == 1:
				x := float64(rng.Intn(100))
				ops = append(ops, op{kind: 1, id: live[rng.Intn(len(live))], patch: Patch{X: &x}})
			default:
				pos := rng.Intn(len(live))
				ops = append(ops, op{kind: 2, id: live[pos]})
				live = append(live[:pos], live[pos+1:]...)
			}
		}

		first := replay(ops, ids)
		second := replay(ops, ids)
		require.Equal(t, first, second, "round %d", round)
		if len(live) == 0 {
			assert.Empty(t, first, "round %d", round)
		} else {
			assert.Equal(t, live, IDs(first), "round %d", round)
		}
	}
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roach88/canvassync/internal/canvas"
)

func bg() context.Context { return context.Background() }

func stroke(id, content string) canvas.Element {
	return canvas.Element{
		ID:      id,
		Kind:    canvas.KindStroke,
		Content: content,
		Points:  []canvas.Point{{X: 1, Y: 2}, {X: 3, Y: 4}},
	}
}

func snapshotOf(userID string, elements ...canvas.Element) canvas.Snapshot {
	return canvas.Snapshot{Elements: elements, UserID: userID}
}

// testRepository runs the contract every backend must satisfy.
// Each subtest uses its own canvas id so shared databases stay isolated.
func testRepository(t *testing.T, open func(t *testing.T) Repository) {
	canvasID := func(t *testing.T) string { return "canvas-" + t.Name() }

	t.Run("LoadUnknownIsEmpty", func(t *testing.T) {
		r := open(t)
		snap, err := r.Load(bg(), canvasID(t))
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if snap.Elements == nil || len(snap.Elements) != 0 {
			t.Errorf("Elements = %#v, want empty non-nil", snap.Elements)
		}
		if !snap.LastUpdated.IsZero() {
			t.Errorf("LastUpdated = %v, want zero", snap.LastUpdated)
		}
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		r := open(t)
		id := canvasID(t)
		at := time.Date(2026, 3, 1, 12, 0, 0, int(250*time.Millisecond), time.UTC)

		snap := snapshotOf("u1", stroke("a", "v1"), stroke("b", "v2"))
		snap.LastUpdated = at
		rev, err := r.Save(bg(), id, snap)
		if err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		if rev != 1 {
			t.Errorf("first revision = %d, want 1", rev)
		}

		got, err := r.Load(bg(), id)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if ids := canvas.IDs(got.Elements); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Errorf("IDs = %v, want [a b]", ids)
		}
		if len(got.Elements[0].Points) != 2 {
			t.Errorf("points not preserved: %+v", got.Elements[0])
		}
		if !got.LastUpdated.Equal(at) {
			t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, at)
		}
		if got.LastUpdated.Location() != time.UTC {
			t.Errorf("LastUpdated location = %v, want UTC", got.LastUpdated.Location())
		}
		if got.UserID != "u1" {
			t.Errorf("UserID = %q, want u1", got.UserID)
		}
	})

	t.Run("SaveReplacesAndBumpsRevision", func(t *testing.T) {
		r := open(t)
		id := canvasID(t)

		if _, err := r.Save(bg(), id, snapshotOf("u1", stroke("a", "v1"))); err != nil {
			t.Fatalf("Save() 1 failed: %v", err)
		}
		rev, err := r.Save(bg(), id, snapshotOf("u2", stroke("b", "v2")))
		if err != nil {
			t.Fatalf("Save() 2 failed: %v", err)
		}
		if rev != 2 {
			t.Errorf("revision = %d, want 2", rev)
		}

		got, err := r.Load(bg(), id)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if len(got.Elements) != 1 || got.Elements[0].ID != "b" {
			t.Errorf("Elements = %+v, want only b", got.Elements)
		}
		if got.UserID != "u2" {
			t.Errorf("UserID = %q, want u2", got.UserID)
		}
	})

	t.Run("SaveNilElementsStoresEmptyList", func(t *testing.T) {
		r := open(t)
		id := canvasID(t)

		if _, err := r.Save(bg(), id, canvas.Snapshot{}); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		got, err := r.Load(bg(), id)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if got.Elements == nil || len(got.Elements) != 0 {
			t.Errorf("Elements = %#v, want empty non-nil", got.Elements)
		}
		if got.LastUpdated.IsZero() {
			t.Error("LastUpdated should default to now")
		}
	})

	t.Run("HistoryNewestFirst", func(t *testing.T) {
		r := open(t)
		id := canvasID(t)

		for _, content := range []string{"v1", "v2", "v3"} {
			if _, err := r.Save(bg(), id, snapshotOf("u1", stroke("a", content))); err != nil {
				t.Fatalf("Save(%s) failed: %v", content, err)
			}
		}

		history, err := r.History(bg(), id, 0)
		if err != nil {
			t.Fatalf("History() failed: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("len(history) = %d, want 3", len(history))
		}
		want := []string{"v3", "v2", "v1"}
		for i, snap := range history {
			if snap.Elements[0].Content != want[i] {
				t.Errorf("history[%d] = %q, want %q", i, snap.Elements[0].Content, want[i])
			}
		}
	})

	t.Run("HistoryLimit", func(t *testing.T) {
		r := open(t)
		id := canvasID(t)

		for _, content := range []string{"v1", "v2", "v3"} {
			if _, err := r.Save(bg(), id, snapshotOf("u1", stroke("a", content))); err != nil {
				t.Fatalf("Save(%s) failed: %v", content, err)
			}
		}

		history, err := r.History(bg(), id, 2)
		if err != nil {
			t.Fatalf("History() failed: %v", err)
		}
		if len(history) != 2 || history[0].Elements[0].Content != "v3" {
			t.Errorf("History(2) = %+v", history)
		}
	})

	t.Run("UnchangedSaveSkipsHistory", func(t *testing.T) {
		r := open(t)
		id := canvasID(t)

		snap := snapshotOf("u1", stroke("a", "same"))
		for i := 0; i < 3; i++ {
			if _, err := r.Save(bg(), id, snap); err != nil {
				t.Fatalf("Save() %d failed: %v", i, err)
			}
		}
		rev, err := r.Save(bg(), id, snapshotOf("u1", stroke("a", "changed")))
		if err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		if rev != 4 {
			t.Errorf("revision = %d, want 4", rev)
		}

		history, err := r.History(bg(), id, 0)
		if err != nil {
			t.Fatalf("History() failed: %v", err)
		}
		if len(history) != 2 {
			t.Errorf("len(history) = %d, want 2 (deduped)", len(history))
		}
	})

	t.Run("HistoryUnknownIsEmpty", func(t *testing.T) {
		r := open(t)
		history, err := r.History(bg(), canvasID(t), 0)
		if err != nil {
			t.Fatalf("History() failed: %v", err)
		}
		if history == nil || len(history) != 0 {
			t.Errorf("History() = %#v, want empty non-nil", history)
		}
	})

	t.Run("CanvasesAreIsolated", func(t *testing.T) {
		r := open(t)
		a, b := canvasID(t)+"-a", canvasID(t)+"-b"

		if _, err := r.Save(bg(), a, snapshotOf("u1", stroke("x", "a"))); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		got, err := r.Load(bg(), b)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if len(got.Elements) != 0 {
			t.Errorf("canvas %s leaked elements: %+v", b, got.Elements)
		}
	})

	t.Run("EmptyCanvasID", func(t *testing.T) {
		r := open(t)
		if _, err := r.Load(bg(), ""); !errors.Is(err, ErrEmptyCanvasID) {
			t.Errorf("Load(\"\") err = %v, want ErrEmptyCanvasID", err)
		}
		if _, err := r.Save(bg(), "", canvas.Snapshot{}); !errors.Is(err, ErrEmptyCanvasID) {
			t.Errorf("Save(\"\") err = %v, want ErrEmptyCanvasID", err)
		}
		if _, err := r.History(bg(), "", 0); !errors.Is(err, ErrEmptyCanvasID) {
			t.Errorf("History(\"\") err = %v, want ErrEmptyCanvasID", err)
		}
	})
}

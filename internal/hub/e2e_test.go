package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/engine"
	"github.com/roach88/canvassync/internal/realtime"
)

func (f *fixture) startEngine(t *testing.T, userID, token string) *engine.Engine {
	t.Helper()

	wsURL, err := realtime.URLFromAPI(f.srv.URL + "/api")
	require.NoError(t, err)

	e := engine.New(userID, token,
		f.client(token),
		realtime.New(wsURL, realtime.WithBaseDelay(10*time.Millisecond)),
		engine.WithDebounce(20*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})

	select {
	case <-e.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: initial load did not complete", userID)
	}
	return e
}

func waitForPartner(t *testing.T, e *engine.Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := e.Status(context.Background())
		return err == nil && st.PartnerConnected && st.Transport.State == realtime.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEndToEnd_PartnersConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.startEngine(t, "alice", "tok-a")
	bob := f.startEngine(t, "bob", "tok-b")
	waitForPartner(t, alice)
	waitForPartner(t, bob)

	id, err := alice.AddElement(ctx, canvas.Draft{Kind: canvas.KindText, Content: "hello", X: 10, Y: 20})
	require.NoError(t, err)

	// Debounced save, then a realtime broadcast to bob.
	require.Eventually(t, func() bool {
		elements, err := bob.Elements(ctx)
		return err == nil && len(elements) == 1 && elements[0].ID == id
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := f.repo.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, canvas.IDs(stored.Elements))
	assert.Equal(t, "alice", stored.UserID)

	// Alice's own echo must not disturb her store.
	elements, err := alice.Elements(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, canvas.IDs(elements))

	require.NoError(t, bob.Clear(ctx))
	require.Eventually(t, func() bool {
		elements, err := alice.Elements(ctx)
		return err == nil && len(elements) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEndToEnd_LateJoinerLoadsSavedCanvas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.startEngine(t, "alice", "tok-a")
	_, err := alice.AddElement(ctx, canvas.Draft{Kind: canvas.KindSticker, Content: "★"})
	require.NoError(t, err)
	require.NoError(t, alice.SaveNow(ctx))

	bob := f.startEngine(t, "bob", "tok-b")
	elements, err := bob.Elements(ctx)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "★", elements[0].Content)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/testutil"
	"github.com/roach88/shoplist/internal/transport/memory"
)

func testSession(actor string) ir.Session {
	return ir.Session{ActorID: actor, ListID: "list-1", InviteCode: "AB12-CD34-EF56", Role: ir.RoleMember}
}

func newTestReplica(t *testing.T, opts ...ReplicaOption) (*Replica, *testutil.MemoryPersister, *testutil.RecordingTransport) {
	t.Helper()
	p := testutil.NewMemoryPersister()
	tr := testutil.NewRecordingTransport("self")
	opts = append([]ReplicaOption{WithClock(testutil.NewManualClock(1000))}, opts...)
	r := NewReplica(testSession("alice"), ir.NewDoc("list-1"), p, tr, opts...)
	return r, p, tr
}

func TestReplica_LocalOpAppliesPersistsBroadcasts(t *testing.T) {
	ctx := context.Background()
	r, p, tr := newTestReplica(t)

	doc, err := r.HandleLocalOp(ctx, upsert("op-1", 100, "1", "milk", false))
	require.NoError(t, err)
	assert.Contains(t, doc.Items, "1")
	assert.True(t, r.Doc().Equal(doc))

	saved, ok, err := p.LoadDoc(ctx, "list-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, saved.Equal(doc))

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "", sent[0].To)
	require.NotNil(t, sent[0].Op)
	assert.Equal(t, "op-1", sent[0].Op.OpID)

	assert.True(t, r.Gate().Seen("op-1"), "local op ids are marked before sending")
}

func TestReplica_LocalEchoDropped(t *testing.T) {
	ctx := context.Background()
	r, p, _ := newTestReplica(t)

	op := upsert("op-1", 100, "1", "milk", false)
	_, err := r.HandleLocalOp(ctx, op)
	require.NoError(t, err)

	applied, err := r.HandleInboundOp(ctx, "peer", ir.EncodeOp(op))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, p.Saves())
}

// TestReplica_ScenarioD delivers the same op id twice; the second copy must
// never reach ApplyOp, even if its payload differs.
func TestReplica_ScenarioD(t *testing.T) {
	ctx := context.Background()
	r, p, _ := newTestReplica(t)

	first := ir.EncodeOp(upsert("op-1", 100, "1", "milk", false))
	applied, err := r.HandleInboundOp(ctx, "peer", first)
	require.NoError(t, err)
	assert.True(t, applied)

	forged := ir.EncodeOp(upsert("op-1", 200, "1", "poison", false))
	applied, err = r.HandleInboundOp(ctx, "peer", forged)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, "milk", r.Doc().Items["1"].Text)
	assert.Equal(t, 1, p.Saves())
}

func TestReplica_GateClearFallsBackToApply(t *testing.T) {
	ctx := context.Background()
	r, p, _ := newTestReplica(t)

	env := ir.EncodeOp(upsert("op-1", 100, "1", "milk", false))
	_, err := r.HandleInboundOp(ctx, "peer", env)
	require.NoError(t, err)

	r.Gate().Clear()
	applied, err := r.HandleInboundOp(ctx, "peer", env)
	require.NoError(t, err)
	assert.True(t, applied, "cleared id passes the gate")
	assert.Equal(t, 1, p.Saves(), "idempotent apply leaves nothing to persist")
}

func TestReplica_BadEnvelope(t *testing.T) {
	r, _, _ := newTestReplica(t)

	_, err := r.HandleInboundOp(context.Background(), "peer", ir.Envelope{Type: "explode", OpID: "x"})
	require.Error(t, err)
	assert.True(t, IsBadMessageError(err))
	assert.False(t, r.Gate().Seen("x"))
}

func TestReplica_ForeignSnapshotDiscarded(t *testing.T) {
	r, p, _ := newTestReplica(t)
	foreign := ir.NewDoc("list-2")
	foreign.Items["1"] = ir.Item{ID: "1", Text: "intruder", UpdatedAt: 5}

	changed, err := r.HandleInboundSnapshot(context.Background(), "peer", foreign)
	require.Error(t, err)
	assert.True(t, IsForeignListError(err))
	assert.False(t, changed)
	assert.Empty(t, r.Doc().Items)
	assert.Equal(t, 0, p.Saves())

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "list-2", re.ListID)
	assert.Equal(t, "peer", re.From)
}

func TestReplica_InvalidSnapshotDiscarded(t *testing.T) {
	r, _, _ := newTestReplica(t)
	bad := ir.NewDoc("list-1")
	bad.Items["1"] = ir.Item{ID: "2", Text: "miskeyed", UpdatedAt: 5}

	_, err := r.HandleInboundSnapshot(context.Background(), "peer", bad)
	assert.True(t, IsBadMessageError(err))
}

func TestReplica_SnapshotMerged(t *testing.T) {
	ctx := context.Background()
	r, p, _ := newTestReplica(t)
	_, err := r.HandleLocalOp(ctx, upsert("op-1", 100, "1", "milk", false))
	require.NoError(t, err)

	remote := ir.NewDoc("list-1")
	remote.Items["1"] = ir.Item{ID: "1", Text: "milk", Checked: true, UpdatedAt: 200, UpdatedBy: "bob"}
	remote.UpdatedAt = 200

	changed, err := r.HandleInboundSnapshot(ctx, "bob", remote)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, r.Doc().Items["1"].Checked)
	assert.Equal(t, 2, p.Saves())

	changed, err = r.HandleInboundSnapshot(ctx, "bob", remote)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 2, p.Saves())
}

func TestReplica_PeerJoinBootstraps(t *testing.T) {
	ctx := context.Background()
	r, _, tr := newTestReplica(t)

	r.HandlePeerJoin(ctx, "bob")
	assert.Equal(t, []string{"bob"}, r.Peers())

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "bob", sent[0].To)
	require.NotNil(t, sent[0].Doc)
	assert.Equal(t, "list-1", sent[0].Doc.ListID)

	r.HandlePeerLeave("bob")
	assert.Empty(t, r.Peers())
}

func TestReplica_CreatorNameSurvivesBootstrap(t *testing.T) {
	ctx := context.Background()

	owner, err := CreateSession(NewFixedGenerator("owner"), "Ana", "Groceries")
	require.NoError(t, err)
	joiner, err := JoinSession(NewFixedGenerator("joiner"), ir.Session{}, "Ben", owner.InviteCode)
	require.NoError(t, err)

	ownerLink := testutil.NewRecordingTransport("owner")
	joinerLink := testutil.NewRecordingTransport("joiner")
	a := NewReplica(owner, NewListDoc(owner, testutil.NewManualClock(1000)), testutil.NewMemoryPersister(), ownerLink)
	b := NewReplica(joiner, SeedDoc(joiner, ir.Doc{}, false), testutil.NewMemoryPersister(), joinerLink)

	for round := 1; round <= 3; round++ {
		a.HandlePeerJoin(ctx, "joiner")
		b.HandlePeerJoin(ctx, "owner")
		toJoiner := ownerLink.Sent()[round-1].Doc
		toOwner := joinerLink.Sent()[round-1].Doc
		require.NotNil(t, toJoiner)
		require.NotNil(t, toOwner)

		_, err := a.HandleInboundSnapshot(ctx, "joiner", *toOwner)
		require.NoError(t, err)
		_, err = b.HandleInboundSnapshot(ctx, "owner", *toJoiner)
		require.NoError(t, err)

		assert.Equal(t, "Groceries", a.Doc().ListName, "round %d", round)
		assert.Equal(t, "Groceries", b.Doc().ListName, "round %d", round)
		assert.True(t, a.Doc().Equal(b.Doc()), "round %d", round)
	}
}

func TestReplica_SendFailuresIgnored(t *testing.T) {
	ctx := context.Background()
	r, _, tr := newTestReplica(t)
	tr.FailSends(errors.New("network down"))

	_, err := r.HandleLocalOp(ctx, upsert("op-1", 100, "1", "milk", false))
	assert.NoError(t, err)
	assert.Contains(t, r.Doc().Items, "1", "local edits apply even when sending fails")

	assert.Error(t, r.BroadcastSnapshot(ctx))
}

func TestReplica_PersistFailureReported(t *testing.T) {
	ctx := context.Background()
	r, p, _ := newTestReplica(t)
	p.FailWrites(true)

	_, err := r.HandleLocalOp(ctx, upsert("op-1", 100, "1", "milk", false))
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Contains(t, r.Doc().Items, "1", "memory state stays authoritative")
}

func TestReplica_Relay(t *testing.T) {
	ctx := context.Background()
	r, _, tr := newTestReplica(t, WithRelay(true))

	env := ir.EncodeOp(upsert("op-1", 100, "1", "milk", false))
	_, err := r.HandleInboundOp(ctx, "bob", env)
	require.NoError(t, err)
	_, err = r.HandleInboundOp(ctx, "carol", env)
	require.NoError(t, err)

	sent := tr.Sent()
	require.Len(t, sent, 1, "only the first copy is relayed")
	assert.Equal(t, "op-1", sent[0].Op.OpID)
}

func TestReplica_OnChange(t *testing.T) {
	ctx := context.Background()
	var seen []int
	r, _, _ := newTestReplica(t, WithOnChange(func(d ir.Doc) { seen = append(seen, len(d.Items)) }))

	_, _ = r.HandleLocalOp(ctx, upsert("op-1", 100, "1", "milk", false))
	_, _ = r.HandleLocalOp(ctx, upsert("op-2", 50, "1", "older", false))
	_, _ = r.HandleLocalOp(ctx, upsert("op-3", 110, "2", "bread", false))

	assert.Equal(t, []int{1, 2}, seen, "no-op applies do not fire")
}

func TestReplica_ClockObservesRemoteWrites(t *testing.T) {
	ctx := context.Background()
	clock := NewWallClockAt(0)
	clock.now = func() time.Time { return time.UnixMilli(1000) }
	r := NewReplica(testSession("alice"), ir.NewDoc("list-1"), nil, nil, WithClock(clock))

	_, err := r.HandleInboundOp(ctx, "bob", ir.EncodeOp(upsert("op-1", 5000, "1", "milk", false)))
	require.NoError(t, err)

	op, err := r.Actions().ToggleItem(r.Doc(), "1")
	require.NoError(t, err)
	assert.Greater(t, op.OpMeta().TS, int64(5000), "a local edit after seeing a skewed peer still wins")
}

func TestReplica_DrainProcessesQueuedTraffic(t *testing.T) {
	ctx := context.Background()
	r, _, tr := newTestReplica(t)
	h := tr.Handlers()

	h.OnPeerJoin("bob")
	h.OnOp("bob", ir.EncodeOp(upsert("op-1", 100, "1", "milk", false)))
	h.OnOp("bob", ir.EncodeOp(upsert("op-1", 100, "1", "milk", false)))
	h.OnState("bob", ir.NewDoc("list-other"))

	assert.Equal(t, 4, r.Drain(ctx))
	assert.Contains(t, r.Doc().Items, "1")
	assert.Equal(t, []string{"bob"}, r.Peers())
}

func startReplicas(t *testing.T, ctx context.Context, hub *memory.Hub, names ...string) []*Replica {
	t.Helper()
	replicas := make([]*Replica, 0, len(names))
	for _, name := range names {
		tr := hub.Join(name)
		r := NewReplica(testSession(name), ir.NewDoc("list-1"), testutil.NewMemoryPersister(), tr,
			WithSnapshotInterval(0),
			WithIDGenerator(NewFixedGenerator(fixedIDs(name, 20)...)),
		)
		go func() { _ = r.Run(ctx) }()
		require.NoError(t, tr.Start(ctx))
		t.Cleanup(func() { _ = tr.Close() })
		replicas = append(replicas, r)
	}
	return replicas
}

func fixedIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%02d", prefix, i)
	}
	return ids
}

func converged(replicas []*Replica) bool {
	first := replicas[0].Doc()
	for _, r := range replicas[1:] {
		if !r.Doc().Equal(first) {
			return false
		}
	}
	return true
}

func TestReplica_RunConvergesOverMemoryHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := memory.NewHub()
	hub.SetDuplicate(true)
	replicas := startReplicas(t, ctx, hub, "alice", "bob", "carol")

	alice, bob, carol := replicas[0], replicas[1], replicas[2]

	add, err := alice.Actions().AddItem("milk")
	require.NoError(t, err)
	require.True(t, alice.Submit(add))

	require.Eventually(t, func() bool {
		return len(bob.Doc().Items) == 1 && len(carol.Doc().Items) == 1
	}, 2*time.Second, 5*time.Millisecond)

	itemID := add.(ir.Upsert).Item.ID
	toggleOp, err := bob.Actions().ToggleItem(bob.Doc(), itemID)
	require.NoError(t, err)
	bob.Submit(toggleOp)

	renameOp, err := carol.Actions().RenameList("Weekend")
	require.NoError(t, err)
	carol.Submit(renameOp)

	require.Eventually(t, func() bool {
		return converged(replicas) && alice.Doc().ListName == "Weekend" && alice.Doc().Items[itemID].Checked
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, alice.Peers(), 2)
}

func TestReplica_LateJoinerBootstrapsFromSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := memory.NewHub()
	replicas := startReplicas(t, ctx, hub, "alice")
	alice := replicas[0]

	for _, text := range []string{"milk", "bread", "eggs"} {
		op, err := alice.Actions().AddItem(text)
		require.NoError(t, err)
		alice.Submit(op)
	}
	require.Eventually(t, func() bool { return len(alice.Doc().Items) == 3 }, 2*time.Second, 5*time.Millisecond)

	late := startReplicas(t, ctx, hub, "dave")[0]
	require.Eventually(t, func() bool { return late.Doc().Equal(alice.Doc()) }, 2*time.Second, 5*time.Millisecond)
}

func TestReplica_RunStops(t *testing.T) {
	r := NewReplica(testSession("alice"), ir.NewDoc("list-1"), nil, nil, WithSnapshotInterval(0))

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, r.Submit(rename("late", 1, "x")))
}

package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/store"
	"github.com/roach88/shoplist/internal/testutil"
)

// node is one replica under test with its own store and recording link.
type node struct {
	replica *engine.Replica
	link    *testutil.RecordingTransport
	store   *store.Store

	// delivered counts, per receiving replica, how many of this node's
	// emitted ops have already been delivered.
	delivered map[string]int
}

// Harness runs scenarios without goroutines: every step executes to
// completion on the calling goroutine, so traces are reproducible.
type Harness struct {
	nodes  map[string]*node
	order  []string
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each replica gets a fresh in-memory SQLite store. Execution flow:
//  1. Start every replica from the same blank document
//  2. Execute steps in order, recording one trace event each
//  3. Check that every replica persisted its final document
//  4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		nodes:  make(map[string]*node, len(scenario.Replicas)),
		order:  scenario.Replicas,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	defer h.close()

	for _, id := range scenario.Replicas {
		if err := h.addNode(scenario, id); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
		result.addTrace(ev)
	}

	for _, id := range h.order {
		n := h.nodes[id]
		doc := n.replica.Doc()
		result.Docs[id] = doc
		result.Duplicates[id] = n.replica.Gate().Dropped()

		saved, ok, err := n.store.LoadDoc(ctx, scenario.ListID)
		if err != nil {
			return nil, fmt.Errorf("load %s document: %w", id, err)
		}
		if ok && !saved.Equal(doc) {
			result.AddError(fmt.Sprintf("replica %s: persisted document differs from live document", id))
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) addNode(scenario *Scenario, id string) error {
	st, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("failed to create in-memory store for %s: %w", id, err)
	}

	doc := ir.NewDoc(scenario.ListID)
	doc.ListName = scenario.ListName

	link := testutil.NewRecordingTransport(id)
	session := ir.Session{ActorID: id, ListID: scenario.ListID, ListName: scenario.ListName}
	r := engine.NewReplica(session, doc, st, link,
		engine.WithClock(testutil.NewManualClock(1)),
		engine.WithIDGenerator(engine.NewFixedGenerator()),
	)

	h.nodes[id] = &node{replica: r, link: link, store: st, delivered: make(map[string]int)}
	return nil
}

func (h *Harness) close() {
	for _, n := range h.nodes {
		if err := n.store.Close(); err != nil {
			h.logger.Warn("close store", "error", err)
		}
	}
}

func (h *Harness) execute(ctx context.Context, index int, step Step) (TraceEvent, error) {
	if step.isLocal() {
		return h.local(ctx, index, step)
	}

	from, to := h.nodes[step.From], h.nodes[step.To]
	ev := TraceEvent{Do: step.Do, Replica: step.To, From: step.From}
	before := to.replica.Doc()

	switch step.Do {
	case StepSync:
		changed, err := to.replica.HandleInboundSnapshot(ctx, step.From, from.replica.Doc())
		if err != nil {
			return ev, err
		}
		ev.Changed = changed
		h.logger.Info("snapshot merged", "from", step.From, "to", step.To, "changed", changed)
		return ev, nil

	case StepDeliver, StepRedeliver:
		ops := emitted(from.link)
		start := from.delivered[step.To]
		if step.Do == StepRedeliver {
			start = 0
		}
		for _, env := range ops[start:] {
			applied, err := to.replica.HandleInboundOp(ctx, step.From, env)
			if err != nil {
				return ev, err
			}
			if applied {
				ev.Applied++
			} else {
				ev.Dropped++
			}
		}
		from.delivered[step.To] = len(ops)
		ev.Changed = !to.replica.Doc().Equal(before)
		h.logger.Info("ops delivered", "from", step.From, "to", step.To, "applied", ev.Applied, "dropped", ev.Dropped)
		return ev, nil
	}
	return ev, fmt.Errorf("unknown step %q", step.Do)
}

// local applies one scenario op on its replica as if the user made it.
func (h *Harness) local(ctx context.Context, index int, step Step) (TraceEvent, error) {
	n := h.nodes[step.Replica]
	op := buildOp(index, step)
	ev := TraceEvent{Do: step.Do, Replica: step.Replica, OpID: op.OpMeta().OpID}

	before := n.replica.Doc()
	next, err := n.replica.HandleLocalOp(ctx, op)
	if err != nil {
		return ev, err
	}
	ev.Changed = !next.Equal(before)
	return ev, nil
}

func buildOp(index int, step Step) ir.Op {
	opID := step.OpID
	if opID == "" {
		opID = fmt.Sprintf("%s-%d", step.Replica, index+1)
	}
	meta := ir.Meta{OpID: opID, TS: step.TS}

	switch step.Do {
	case StepUpsert:
		return ir.Upsert{Meta: meta, Item: ir.Item{
			ID:        step.ID,
			Text:      step.Text,
			Checked:   step.Checked,
			UpdatedAt: step.TS,
			UpdatedBy: step.Replica,
		}}
	case StepToggle:
		return ir.Toggle{Meta: meta, ItemID: step.ID, Checked: step.Checked, ActorID: step.Replica}
	case StepRemove:
		return ir.Remove{Meta: meta, ItemID: step.ID}
	default:
		return ir.Rename{Meta: meta, ListName: step.Name}
	}
}

// emitted returns the op envelopes a replica has broadcast, in order.
func emitted(link *testutil.RecordingTransport) []ir.Envelope {
	var ops []ir.Envelope
	for _, s := range link.Sent() {
		if s.Op != nil {
			ops = append(ops, *s.Op)
		}
	}
	return ops
}

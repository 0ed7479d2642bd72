package testutil

import (
	"context"
	"sync"

	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/transport"
)

// Sent is one frame recorded by RecordingTransport.
type Sent struct {
	To  string
	Op  *ir.Envelope
	Doc *ir.Doc
}

// RecordingTransport records every send and lets tests inject inbound
// traffic through the subscribed handlers.
type RecordingTransport struct {
	mu       sync.Mutex
	self     string
	handlers transport.Handlers
	sent     []Sent
	err      error
}

var _ transport.Transport = (*RecordingTransport)(nil)

// NewRecordingTransport creates a transport named self.
func NewRecordingTransport(self string) *RecordingTransport {
	return &RecordingTransport{self: self}
}

// FailSends makes every later send return err (nil to stop failing).
// Failed sends are still recorded.
func (t *RecordingTransport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Sent returns a copy of every recorded frame.
func (t *RecordingTransport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// Handlers returns the subscribed handlers.
func (t *RecordingTransport) Handlers() transport.Handlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers
}

func (t *RecordingTransport) BroadcastOp(ctx context.Context, env ir.Envelope, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, Sent{To: to, Op: &env})
	return t.err
}

func (t *RecordingTransport) BroadcastState(ctx context.Context, doc ir.Doc, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := doc.Clone()
	t.sent = append(t.sent, Sent{To: to, Doc: &clone})
	return t.err
}

func (t *RecordingTransport) Subscribe(h transport.Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

func (t *RecordingTransport) Start(ctx context.Context) error { return nil }
func (t *RecordingTransport) Close() error                    { return nil }
func (t *RecordingTransport) Self() string                    { return t.self }

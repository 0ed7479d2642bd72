package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/shoplist/internal/ir"
)

// ErrInjected is returned by MemoryPersister writes after FailWrites.
var ErrInjected = errors.New("injected failure")

// MemoryPersister is an in-memory session and document store.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryPersister struct {
	mu         sync.Mutex
	session    *ir.Session
	docs       map[string]ir.Doc
	saves      int
	failWrites bool
}

// NewMemoryPersister creates an empty store.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{docs: make(map[string]ir.Doc)}
}

// FailWrites makes every later save return ErrInjected.
func (p *MemoryPersister) FailWrites(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWrites = fail
}

// Saves returns how many documents were saved.
func (p *MemoryPersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func (p *MemoryPersister) SaveSession(ctx context.Context, s ir.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrites {
		return ErrInjected
	}
	p.session = &s
	return nil
}

func (p *MemoryPersister) LoadSession(ctx context.Context) (ir.Session, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return ir.Session{}, false, nil
	}
	return *p.session, true, nil
}

func (p *MemoryPersister) ClearSession(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	return nil
}

func (p *MemoryPersister) SaveDoc(ctx context.Context, doc ir.Doc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrites {
		return ErrInjected
	}
	p.docs[doc.ListID] = doc.Clone()
	p.saves++
	return nil
}

func (p *MemoryPersister) LoadDoc(ctx context.Context, listID string) (ir.Doc, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, ok := p.docs[listID]
	if !ok {
		return ir.Doc{}, false, nil
	}
	return doc.Clone(), true, nil
}

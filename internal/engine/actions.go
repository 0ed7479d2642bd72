package engine

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/shoplist/internal/ir"
)

// Actions builds operations from user input.
//
// Every builder validates and normalizes its input first (trim, NFC) and
// returns a sentinel error instead of an op when the input is unusable. The
// ops it returns are stamped with Clock and carry fresh ids from IDs.
type Actions struct {
	Clock   Clock
	IDs     IDGenerator
	ActorID string
}

// NewActions creates an action builder for actorID.
func NewActions(clock Clock, ids IDGenerator, actorID string) Actions {
	return Actions{Clock: clock, IDs: ids, ActorID: actorID}
}

func (a Actions) meta() ir.Meta {
	return ir.Meta{OpID: a.IDs.Generate(), TS: a.Clock.Now()}
}

// AddItem builds an upsert for a new unchecked item.
func (a Actions) AddItem(text string) (ir.Op, error) {
	text = cleanInput(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	m := a.meta()
	return ir.Upsert{
		Meta: m,
		Item: ir.Item{
			ID:        a.IDs.Generate(),
			Text:      text,
			UpdatedAt: m.TS,
			UpdatedBy: a.ActorID,
		},
	}, nil
}

// EditItem builds an upsert that replaces the text of an existing item and
// keeps its checked state.
func (a Actions) EditItem(doc ir.Doc, id, text string) (ir.Op, error) {
	text = cleanInput(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	existing, ok := doc.Items[id]
	if !ok {
		return nil, fmt.Errorf("edit %s: %w", id, ErrUnknownItem)
	}
	m := a.meta()
	existing.Text = text
	existing.UpdatedAt = m.TS
	existing.UpdatedBy = a.ActorID
	return ir.Upsert{Meta: m, Item: existing}, nil
}

// ToggleItem builds a toggle that flips the item's current checked state.
func (a Actions) ToggleItem(doc ir.Doc, id string) (ir.Op, error) {
	existing, ok := doc.Items[id]
	if !ok {
		return nil, fmt.Errorf("toggle %s: %w", id, ErrUnknownItem)
	}
	return ir.Toggle{
		Meta:    a.meta(),
		ItemID:  id,
		Checked: !existing.Checked,
		ActorID: a.ActorID,
	}, nil
}

// RemoveItem builds a remove for an existing item.
func (a Actions) RemoveItem(doc ir.Doc, id string) (ir.Op, error) {
	if _, ok := doc.Items[id]; !ok {
		return nil, fmt.Errorf("remove %s: %w", id, ErrUnknownItem)
	}
	return ir.Remove{Meta: a.meta(), ItemID: id}, nil
}

// RenameList builds a rename of the list.
func (a Actions) RenameList(name string) (ir.Op, error) {
	name = cleanInput(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	return ir.Rename{Meta: a.meta(), ListName: name}, nil
}

// CreateSession starts a new list owned by this device.
// The list id is derived from a fresh invite code.
func CreateSession(ids IDGenerator, userName, listName string) (ir.Session, error) {
	listName = cleanInput(listName)
	if listName == "" {
		return ir.Session{}, ErrEmptyName
	}
	code, err := NewInviteCode()
	if err != nil {
		return ir.Session{}, fmt.Errorf("create session: %w", err)
	}
	return ir.Session{
		ActorID:    ids.Generate(),
		UserName:   cleanInput(userName),
		ListID:     ir.ListIDFromInvite(code),
		ListName:   listName,
		InviteCode: code,
		Role:       ir.RoleOwner,
	}, nil
}

// JoinSession joins the list behind code.
//
// When prev already belongs to the same code its actor id is kept, so a
// device rejoining its own list keeps writing as the same actor.
func JoinSession(ids IDGenerator, prev ir.Session, userName, code string) (ir.Session, error) {
	code, err := NormalizeInviteCode(code)
	if err != nil {
		return ir.Session{}, err
	}
	actorID := prev.ActorID
	role := ir.RoleMember
	if prev.InviteCode != code || actorID == "" {
		actorID = ids.Generate()
	} else if prev.Role != "" {
		role = prev.Role
	}
	return ir.Session{
		ActorID:    actorID,
		UserName:   cleanInput(userName),
		ListID:     ir.ListIDFromInvite(code),
		InviteCode: code,
		Role:       role,
	}, nil
}

// SeedDoc returns the document a session starts from: the cached document
// when one exists for the session's list, otherwise a blank one carrying the
// session's list name.
func SeedDoc(s ir.Session, cached ir.Doc, ok bool) ir.Doc {
	if ok && cached.ListID == s.ListID {
		return cached.Clone()
	}
	doc := ir.NewDoc(s.ListID)
	doc.ListName = s.ListName
	return doc
}

// NewListDoc returns the first document of a list this device just created.
// The name is stamped with clock so it wins over the blank, unstamped name
// every joiner starts from.
func NewListDoc(s ir.Session, clock Clock) ir.Doc {
	doc := ir.NewDoc(s.ListID)
	doc.ListName = s.ListName
	doc.ListNameUpdatedAt = clock.Now()
	doc.UpdatedAt = doc.ListNameUpdatedAt
	return doc
}

// MemberLabel renders a member count (this device included) for display.
func MemberLabel(members int) string {
	if members <= 1 {
		return "you only"
	}
	return fmt.Sprintf("%d members connected", members)
}

// NormalizeName trims and NFC-normalizes a user or list name.
func NormalizeName(s string) string {
	return cleanInput(s)
}

func cleanInput(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

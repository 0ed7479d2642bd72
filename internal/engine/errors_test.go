package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Error(t *testing.T) {
	foreign := NewForeignListError("list-1", "list-2", "bob")
	assert.Equal(t, `FOREIGN_LIST: snapshot for list "list-2" does not match "list-1" (list=list-2)`, foreign.Error())

	bad := NewBadMessageError("op-9", "bob", errors.New("boom"))
	assert.Equal(t, "BAD_MESSAGE: boom (op=op-9)", bad.Error())

	bare := &RuntimeError{Code: ErrCodeBadMessage, Message: "empty frame"}
	assert.Equal(t, "BAD_MESSAGE: empty frame", bare.Error())
}

func TestRuntimeError_Helpers(t *testing.T) {
	wrapped := fmt.Errorf("handle snapshot: %w", NewForeignListError("a", "b", ""))
	assert.True(t, IsForeignListError(wrapped))
	assert.False(t, IsBadMessageError(wrapped))

	assert.False(t, IsForeignListError(errors.New("plain")))
	assert.False(t, IsBadMessageError(nil))
}

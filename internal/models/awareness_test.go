package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAwarenessState_Clone(t *testing.T) {
	original := &AwarenessState{
		Cursor:     json.RawMessage(`{"anchor":3,"head":5}`),
		User:       User{ID: "u1", Name: "Alice", Color: "#ff0000"},
		LastUpdate: 42,
		Active:     true,
	}

	clone := original.Clone()
	assert.Equal(t, original, clone)

	clone.Cursor[0] = '['
	clone.User.Name = "Bob"
	assert.Equal(t, byte('{'), original.Cursor[0])
	assert.Equal(t, "Alice", original.User.Name)
}

func TestAwarenessState_JSON(t *testing.T) {
	state := AwarenessState{User: User{Name: "Alice"}, LastUpdate: 7, Active: true}

	data, err := json.Marshal(state)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"user":{"id":"","name":"Alice","color":"","avatar":""},"last_update":7,"active":true}`, string(data))
}

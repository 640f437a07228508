package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeUsername(t *testing.T) {
	cases := map[string]string{
		"CoolGuy":      "coolguy",
		" Alice Bob ":  "alice_bob",
		"already_safe": "already_safe",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeUsername(in))
	}
}

func TestUsernameKeyIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, usernameKey("Alice"), usernameKey("alice"))
	assert.Equal(t, usernameKey("Alice"), usernameKey(" alice "))
}

func TestUserIDKeyIsStablePerUser(t *testing.T) {
	assert.Equal(t, userIDKey(42), userIDKey(42))
	assert.NotEqual(t, userIDKey(42), userIDKey(43))
}

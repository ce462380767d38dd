package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		name    string
		build   func(string) Message
		role    Role
		content string
	}{
		{"system", SystemMessage, RoleSystem, "You are a co-author for a fantasy novel."},
		{"user", UserMessage, RoleUser, "Continue the scene."},
		{"assistant", AssistantMessage, RoleAssistant, "The gate creaked open."},
		{"empty user", UserMessage, RoleUser, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.build(tt.content)
			assert.Equal(t, tt.role, msg.Role)
			assert.Equal(t, tt.content, msg.Content)
		})
	}

	assert.Equal(t, Role("system"), RoleSystem)
	assert.Equal(t, Role("user"), RoleUser)
	assert.Equal(t, Role("assistant"), RoleAssistant)
}

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-relay/internal/model"
)

func TestIsPleasantry(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Hi", true},
		{"hi!!", true},
		{"Thank you :)", true},
		{"ok.", true},
		{"Merci", true},
		{"Hi, can you book me in?", false},
		{"thanks, and what about Friday?", false},
		{"", false},
		{"👋", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPleasantry(tt.text))
		})
	}
}

func TestSenderNote(t *testing.T) {
	assert.Empty(t, SenderNote(model.Sender{ExternalID: "x"}))
	assert.Equal(t,
		"You are talking to Jane Doe (@jdoe). Their timezone is America/Toronto.",
		SenderNote(model.Sender{FirstName: "Jane", LastName: "Doe", Username: "@jdoe", Timezone: "America/Toronto"}),
	)
	assert.Equal(t, "Their locale is fr_CA.", SenderNote(model.Sender{Locale: "fr_CA"}))
}

func TestBuildMessages(t *testing.T) {
	agent := &model.Agent{SystemPrompt: "Be brief."}
	history := []model.ContextTurn{
		{Role: model.RoleUser, Content: "one"},
		{Role: model.RoleAssistant, Content: "two"},
		{Role: model.RoleUser, Content: "hi", Filtered: true},
		{Role: model.RoleSystem, Content: "ignored"},
		{Role: model.RoleUser, Content: "three"},
	}

	msgs := BuildMessages(agent, "KB", model.Sender{}, history, "now", 2)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Be brief.")
	assert.Contains(t, msgs[0].Content, "KB")
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "three", msgs[2].Content)
	assert.Equal(t, "user", msgs[3].Role)
	assert.Equal(t, "now", msgs[3].Content)

	msgs = BuildMessages(&model.Agent{}, "", model.Sender{}, nil, "now", 10)
	require.Len(t, msgs, 2)
	assert.Equal(t, defaultSystemPrompt, msgs[0].Content)
}

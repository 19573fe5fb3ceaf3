package service

import (
	"regexp"
	"strings"

	"github.com/capitalize-ai/agent-relay/internal/llm"
	"github.com/capitalize-ai/agent-relay/internal/model"
)

// BuildMessages assembles the completion context: the agent prompt with its
// knowledge, an optional note about the sender, the last maxTurns unfiltered
// history turns and the new user message.
func BuildMessages(agent *model.Agent, knowledge string, sender model.Sender, history []model.ContextTurn, userText string, maxTurns int) []llm.ChatMessage {
	prompt := strings.TrimSpace(agent.SystemPrompt)
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	if knowledge != "" {
		prompt += "\n\nUse the following knowledge base to answer when it is relevant:\n\n" + knowledge
	}

	msgs := []llm.ChatMessage{llm.System(prompt)}
	if note := SenderNote(sender); note != "" {
		msgs = append(msgs, llm.System(note))
	}

	var kept []model.ContextTurn
	for _, t := range history {
		if t.Filtered || strings.TrimSpace(t.Content) == "" {
			continue
		}
		if t.Role != model.RoleUser && t.Role != model.RoleAssistant {
			continue
		}
		kept = append(kept, t)
	}
	if maxTurns > 0 && len(kept) > maxTurns {
		kept = kept[len(kept)-maxTurns:]
	}
	for _, t := range kept {
		msgs = append(msgs, llm.ChatMessage{Role: string(t.Role), Content: t.Content})
	}

	return append(msgs, llm.User(userText))
}

// SenderNote describes the sender for the model, or returns "" when nothing
// about them is known.
func SenderNote(s model.Sender) string {
	var parts []string

	name := s.DisplayName()
	switch {
	case name != "" && s.Username != "":
		parts = append(parts, "You are talking to "+name+" (@"+strings.TrimPrefix(s.Username, "@")+").")
	case name != "":
		parts = append(parts, "You are talking to "+name+".")
	case s.Username != "":
		parts = append(parts, "You are talking to @"+strings.TrimPrefix(s.Username, "@")+".")
	}
	if s.Gender != "" {
		parts = append(parts, "Their gender is "+s.Gender+".")
	}
	if s.Locale != "" {
		parts = append(parts, "Their locale is "+s.Locale+".")
	}
	if s.Timezone != "" {
		parts = append(parts, "Their timezone is "+s.Timezone+".")
	}
	if s.AvatarURL != "" && len(parts) == 0 {
		parts = append(parts, "The user has a profile picture but no name on file.")
	}
	return strings.Join(parts, " ")
}

var pleasantryTrim = regexp.MustCompile(`[\s\p{P}\p{S}]+`)

var pleasantries = map[string]bool{
	"hi": true, "hello": true, "hey": true, "heya": true, "yo": true, "hiya": true,
	"goodmorning": true, "goodafternoon": true, "goodevening": true,
	"thanks": true, "thankyou": true, "thx": true, "ty": true,
	"thanksalot": true, "thankssomuch": true, "thankyouverymuch": true, "cheers": true,
	"ok": true, "okay": true, "k": true, "kk": true, "cool": true, "great": true, "nice": true,
	"perfect": true, "awesome": true, "gotit": true, "sure": true, "alright": true,
	"bye": true, "goodbye": true, "seeya": true, "seeyou": true,
	"bonjour": true, "salut": true, "merci": true, "hola": true, "gracias": true,
}

// IsPleasantry reports whether text is only a greeting, thanks or
// acknowledgement with no request in it.
func IsPleasantry(text string) bool {
	key := strings.ToLower(pleasantryTrim.ReplaceAllString(text, ""))
	if key == "" {
		return false
	}
	return pleasantries[key]
}

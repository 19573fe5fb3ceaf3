// Package channel normalizes heterogeneous inbound webhook payloads.
package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/capitalize-ai/agent-relay/internal/model"
)

// ErrEmptyMessage is returned when no message text could be found.
var ErrEmptyMessage = errors.New("empty message")

// AnonymousSender is used when a payload carries no sender identity.
const AnonymousSender = "anonymous"

// Aliases tried, in order, for each logical field.
var (
	TextFields   = []string{"message", "text", "Body", "body", "content", "last_input_text", "query", "msg"}
	SenderFields = []string{"contactId", "contact_id", "user_id", "userId", "from", "From", "sender", "sender_id", "senderId", "subscriber_id", "psid", "session_id", "sessionId"}

	firstNameFields = []string{"first_name", "firstName", "FirstName"}
	lastNameFields  = []string{"last_name", "lastName", "LastName"}
	fullNameFields  = []string{"full_name", "fullName", "name", "ProfileName"}
	avatarFields    = []string{"profile_pic", "profilePic", "avatar", "avatar_url", "avatarUrl", "picture"}
	usernameFields  = []string{"username", "ig_username", "instagram_username", "user_name"}
	genderFields    = []string{"gender"}
	localeFields    = []string{"locale", "language"}
	timezoneFields  = []string{"timezone", "time_zone", "tz"}

	// Nested objects some platforms use to carry the contact profile.
	profileContainers = []string{"contact", "subscriber", "user", "sender", "customer"}
)

// Inbound is the canonical shape of one inbound message.
type Inbound struct {
	Text   string
	Sender model.Sender
}

// Normalize parses body according to contentType and extracts the message
// text and sender identity. Unknown fields are ignored.
func Normalize(contentType string, body []byte) (*Inbound, error) {
	return FromFields(Decode(contentType, body))
}

// Decode turns a JSON or form-encoded body into a generic field map. Bodies
// that cannot be decoded yield an empty map.
func Decode(contentType string, body []byte) map[string]any {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := bytes.TrimSpace(body)

	if mediaType == "application/x-www-form-urlencoded" || (mediaType != "application/json" && !looksLikeJSON(trimmed)) {
		if fields, ok := decodeForm(trimmed); ok {
			return fields
		}
	}

	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return map[string]any{}
	}
	return fields
}

// FromFields extracts the canonical inbound message from a decoded payload.
func FromFields(fields map[string]any) (*Inbound, error) {
	text := strings.TrimSpace(firstText(fields, TextFields))
	if text == "" {
		return nil, ErrEmptyMessage
	}

	return &Inbound{
		Text:   text,
		Sender: SenderFrom(fields),
	}, nil
}

// SenderFrom extracts the sender identity and profile from a payload.
func SenderFrom(fields map[string]any) model.Sender {
	sources := []map[string]any{fields}
	for _, key := range profileContainers {
		if nested, ok := fields[key].(map[string]any); ok {
			sources = append(sources, nested)
		}
	}

	s := model.Sender{
		ExternalID: senderID(fields),
		FirstName:  lookup(sources, firstNameFields),
		LastName:   lookup(sources, lastNameFields),
		FullName:   lookup(sources, fullNameFields),
		AvatarURL:  lookup(sources, avatarFields),
		Username:   lookup(sources, usernameFields),
		Gender:     lookup(sources, genderFields),
		Locale:     lookup(sources, localeFields),
		Timezone:   lookup(sources, timezoneFields),
	}
	if s.ExternalID == "" {
		s.ExternalID = AnonymousSender
	}
	return s
}

// SenderIDFromQuery finds a sender id among the aliases in URL query values.
func SenderIDFromQuery(q url.Values) string {
	for _, key := range SenderFields {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

func senderID(fields map[string]any) string {
	for _, key := range SenderFields {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if id := scalar(nested["id"]); id != "" {
				return id
			}
			continue
		}
		if id := scalar(v); id != "" {
			return id
		}
	}
	for _, key := range profileContainers {
		if nested, ok := fields[key].(map[string]any); ok {
			if id := scalar(nested["id"]); id != "" {
				return id
			}
		}
	}
	return ""
}

// firstText returns the first populated text alias. Object values such as
// {"message": {"text": "hi"}} are searched one level deep.
func firstText(fields map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case map[string]any:
			if s := firstText(v, keys); strings.TrimSpace(s) != "" {
				return s
			}
		default:
			if s := scalar(v); strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func lookup(sources []map[string]any, keys []string) string {
	for _, src := range sources {
		for _, key := range keys {
			if s := strings.TrimSpace(scalar(src[key])); s != "" {
				return s
			}
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func looksLikeJSON(b []byte) bool {
	return len(b) > 0 && (b[0] == '{' || b[0] == '[')
}

func decodeForm(b []byte) (map[string]any, bool) {
	values, err := url.ParseQuery(string(b))
	if err != nil || len(values) == 0 {
		return nil, false
	}
	fields := make(map[string]any, len(values))
	for key, vs := range values {
		if len(vs) > 0 {
			fields[key] = vs[0]
		}
	}
	return fields, true
}

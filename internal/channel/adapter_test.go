package channel

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_TextAliases(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message", `{"message":"Hi","contactId":"c1"}`, "Hi"},
		{"text", `{"text":"What's on my calendar today?","user_id":"u1"}`, "What's on my calendar today?"},
		{"Body", `{"Body":"sms body","From":"+15550001"}`, "sms body"},
		{"body", `{"body":"lower body","from":"+15550002"}`, "lower body"},
		{"content", `{"content":"widget says hi","session_id":"s1"}`, "widget says hi"},
		{"nested message object", `{"message":{"text":"from instagram"},"sender":{"id":"ig-1"}}`, "from instagram"},
		{"skips blank alias", `{"message":"  ","text":"second","contactId":"c1"}`, "second"},
		{"trims", `{"message":"  padded  "}`, "padded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Normalize("application/json", []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Text)
		})
	}
}

func TestNormalize_SenderAliases(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"contactId", `{"message":"x","contactId":"c-1"}`, "c-1"},
		{"numeric user_id", `{"message":"x","user_id":123456789012}`, "123456789012"},
		{"from", `{"message":"x","from":"+15551234"}`, "+15551234"},
		{"sender object", `{"message":"x","sender":{"id":"psid-9"}}`, "psid-9"},
		{"sender string", `{"message":"x","sender":"abc"}`, "abc"},
		{"subscriber container", `{"message":"x","subscriber":{"id":"sub-1"}}`, "sub-1"},
		{"missing", `{"message":"x"}`, AnonymousSender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Normalize("application/json", []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Sender.ExternalID)
		})
	}
}

func TestNormalize_Profile(t *testing.T) {
	body := `{
		"contactId": "c-42",
		"message": "hello",
		"first_name": "Jane",
		"last_name": "Doe",
		"profile_pic": "https://cdn.example.com/jane.png",
		"ig_username": "jdoe",
		"gender": "female",
		"locale": "fr_CA",
		"timezone": "America/Toronto",
		"custom_fields": {"plan": "gold"}
	}`

	in, err := Normalize("application/json; charset=utf-8", []byte(body))
	require.NoError(t, err)

	s := in.Sender
	assert.Equal(t, "c-42", s.ExternalID)
	assert.Equal(t, "Jane", s.FirstName)
	assert.Equal(t, "Doe", s.LastName)
	assert.Equal(t, "https://cdn.example.com/jane.png", s.AvatarURL)
	assert.Equal(t, "jdoe", s.Username)
	assert.Equal(t, "female", s.Gender)
	assert.Equal(t, "fr_CA", s.Locale)
	assert.Equal(t, "America/Toronto", s.Timezone)
	assert.Equal(t, "Jane Doe", s.DisplayName())
}

func TestNormalize_NestedProfile(t *testing.T) {
	body := `{"text":"yo","subscriber":{"id":"s-7","first_name":"Sam","timezone":"Europe/Paris"}}`

	in, err := Normalize("application/json", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "s-7", in.Sender.ExternalID)
	assert.Equal(t, "Sam", in.Sender.FirstName)
	assert.Equal(t, "Europe/Paris", in.Sender.Timezone)
}

func TestNormalize_FormEncoded(t *testing.T) {
	form := url.Values{}
	form.Set("Body", "Book me for tomorrow")
	form.Set("From", "+15145550000")
	form.Set("ProfileName", "Alex")
	form.Set("MessageSid", "SM123")

	in, err := Normalize("application/x-www-form-urlencoded", []byte(form.Encode()))
	require.NoError(t, err)
	assert.Equal(t, "Book me for tomorrow", in.Text)
	assert.Equal(t, "+15145550000", in.Sender.ExternalID)
	assert.Equal(t, "Alex", in.Sender.FullName)
}

func TestNormalize_FormWithoutContentType(t *testing.T) {
	in, err := Normalize("", []byte("text=hello+there&user_id=u9"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", in.Text)
	assert.Equal(t, "u9", in.Sender.ExternalID)
}

func TestNormalize_EmptyMessage(t *testing.T) {
	bodies := map[string]string{
		"no text fields": `{"contactId":"c1","first_name":"Jane"}`,
		"blank text":     `{"message":"   "}`,
		"invalid json":   `{"message":`,
		"array":          `["message"]`,
		"empty body":     ``,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize("application/json", []byte(body))
			assert.ErrorIs(t, err, ErrEmptyMessage)
		})
	}
}

func TestSenderIDFromQuery(t *testing.T) {
	assert.Equal(t, "c1", SenderIDFromQuery(url.Values{"contactId": {"c1"}}))
	assert.Equal(t, "u2", SenderIDFromQuery(url.Values{"user_id": {"u2"}}))
	assert.Equal(t, "", SenderIDFromQuery(url.Values{"other": {"x"}}))
}

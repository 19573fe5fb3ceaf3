package action

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-relay/internal/llm"
	"github.com/capitalize-ai/agent-relay/internal/llm/llmtest"
	"github.com/capitalize-ai/agent-relay/internal/model"
)

type recordingEndpoint struct {
	*httptest.Server
	calls     atomic.Int32
	lastBody  atomic.Value
	lastAgent atomic.Value
}

func newEndpoint(t *testing.T, status int, body string) *recordingEndpoint {
	t.Helper()
	ep := &recordingEndpoint{}
	ep.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep.calls.Add(1)
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		ep.lastBody.Store(payload)
		ep.lastAgent.Store(r.UserAgent())
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ep.Close)
	return ep
}

func calendarIntegration(url string) model.Integration {
	return model.Integration{
		Type:        model.IntegrationWebhook,
		Name:        "list calendar",
		Description: "Lists the events on the user's calendar for a day",
		URL:         url,
		Fields:      []model.FieldSpec{{Key: "date", Description: "day to list, YYYY-MM-DD"}},
	}
}

func newTestEngine() *Engine {
	e := NewEngine(NewHTTPInvoker(nil, "", time.Second), "America/Montreal", nil)
	e.now = func() time.Time { return time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC) }
	return e
}

func TestTryActions_NoIntegrationMatches(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK, `{}`)
	client := llmtest.New(map[llm.Purpose]llmtest.Reply{
		llm.PurposeClassify: llmtest.Text("no"),
	})

	out, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText:     "Hi",
		Integrations: []model.Integration{calendarIntegration(ep.URL), calendarIntegration(ep.URL)},
		Model:        "gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, int32(0), ep.calls.Load())
	assert.Len(t, client.CallsFor(llm.PurposeClassify), 2)
}

func TestTryActions_OnlyExactYesMatches(t *testing.T) {
	tests := []struct {
		answer string
		match  bool
	}{
		{"yes", true},
		{" YES \n", true},
		{"Yes.", false},
		{"yes, definitely", false},
		{"maybe", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			client := llmtest.New(map[llm.Purpose]llmtest.Reply{llm.PurposeClassify: llmtest.Text(tt.answer)})
			got, err := newTestEngine().Classify(context.Background(), client, "m", calendarIntegration("http://x"), "hello")
			require.NoError(t, err)
			assert.Equal(t, tt.match, got)
		})
	}
}

func TestTryActions_InvokesAndSummarizes(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK, `{"events":[{"title":"Dentist","time":"14:00"}]}`)
	client := llmtest.New(map[llm.Purpose]llmtest.Reply{
		llm.PurposeClassify:  llmtest.Text("yes"),
		llm.PurposeExtract:   llmtest.Text("```json\n{\"hasAllData\": true, \"data\": {\"date\": \"2025-03-10\"}}\n```"),
		llm.PurposeSummarize: llmtest.Text("You have a dentist appointment at 2pm today."),
	})

	out, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText:     "What's on my calendar today?",
		Integrations: []model.Integration{calendarIntegration(ep.URL)},
		Model:        "gpt-4o-mini",
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, KindInvoked, out.Kind)
	assert.Equal(t, "You have a dentist appointment at 2pm today.", out.Reply)
	assert.Equal(t, int32(1), ep.calls.Load())
	assert.Equal(t, map[string]any{"date": "2025-03-10"}, ep.lastBody.Load())
	assert.Equal(t, DefaultUserAgent, ep.lastAgent.Load())

	summary := client.CallsFor(llm.PurposeSummarize)
	require.Len(t, summary, 1)
	assert.Contains(t, summary[0].Messages[1].Content, "Dentist")
	assert.Contains(t, summary[0].Messages[1].Content, "Status: succeeded")

	extract := client.CallsFor(llm.PurposeExtract)
	require.Len(t, extract, 1)
	assert.True(t, extract[0].JSONMode)
	assert.Contains(t, extract[0].Messages[1].Content, "today is 2025-03-10")
	assert.Contains(t, extract[0].Messages[1].Content, "tomorrow is 2025-03-11")
}

func TestTryActions_MissingFieldAsksForClarification(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK, `{}`)
	client := llmtest.New(map[llm.Purpose]llmtest.Reply{
		llm.PurposeClassify: llmtest.Text("yes"),
		llm.PurposeExtract:  llmtest.Text(`{"hasAllData": false, "missing": ["date"]}`),
		llm.PurposeClarify:  llmtest.Text("Which day should I check?"),
	})

	out, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText:     "Check my calendar",
		Integrations: []model.Integration{calendarIntegration(ep.URL), calendarIntegration(ep.URL)},
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, KindClarified, out.Kind)
	assert.Equal(t, "Which day should I check?", out.Reply)
	assert.Equal(t, []string{"date"}, out.Missing)
	assert.Equal(t, int32(0), ep.calls.Load())
	assert.Len(t, client.CallsFor(llm.PurposeClassify), 1)
}

func TestTryActions_UnparsableExtractionClarifies(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK, `{}`)
	client := llmtest.New(map[llm.Purpose]llmtest.Reply{
		llm.PurposeClassify: llmtest.Text("yes"),
		llm.PurposeExtract:  llmtest.Text("I am not sure what you mean."),
		llm.PurposeClarify:  llmtest.Text("Which date?"),
	})

	out, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText:     "calendar please",
		Integrations: []model.Integration{calendarIntegration(ep.URL)},
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, KindClarified, out.Kind)
	assert.Equal(t, []string{"date"}, out.Missing)
	assert.Equal(t, int32(0), ep.calls.Load())
}

func TestTryActions_FailedCallIsStillSummarized(t *testing.T) {
	ep := newEndpoint(t, http.StatusBadGateway, "upstream down")
	client := llmtest.New(map[llm.Purpose]llmtest.Reply{
		llm.PurposeClassify:  llmtest.Text("yes"),
		llm.PurposeExtract:   llmtest.Text(`{"hasAllData": true, "data": {"date": "2025-03-11"}}`),
		llm.PurposeSummarize: llmtest.Text("I couldn't reach your calendar just now."),
	})

	out, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText:     "what about tomorrow?",
		Integrations: []model.Integration{calendarIntegration(ep.URL)},
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, KindInvokeFailed, out.Kind)
	assert.Equal(t, "I couldn't reach your calendar just now.", out.Reply)

	summary := client.CallsFor(llm.PurposeSummarize)
	require.Len(t, summary, 1)
	assert.Contains(t, summary[0].Messages[1].Content, "Status: failed")
	assert.Contains(t, summary[0].Messages[1].Content, "upstream down")
}

func TestTryActions_SummaryFailureUsesCannedReply(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK, `{"ok":true}`)
	client := llmtest.New(map[llm.Purpose]llmtest.Reply{
		llm.PurposeClassify:  llmtest.Text("yes"),
		llm.PurposeExtract:   llmtest.Text(`{"hasAllData": true, "data": {"date": "2025-03-10"}}`),
		llm.PurposeSummarize: llmtest.Fail(errors.New("boom")),
	})

	out, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText:     "today?",
		Integrations: []model.Integration{calendarIntegration(ep.URL)},
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, strings.HasPrefix(out.Reply, "Done!"))
}

func TestTryActions_StopsAtFirstMatch(t *testing.T) {
	first := newEndpoint(t, http.StatusOK, `{}`)
	second := newEndpoint(t, http.StatusOK, `{}`)

	var classified atomic.Int32
	client := llmtest.New(map[llm.Purpose]llmtest.Reply{
		llm.PurposeClassify: func(req *llm.CompletionRequest) (string, error) {
			classified.Add(1)
			if strings.Contains(req.Messages[1].Content, "Action name: book") {
				return "yes", nil
			}
			return "no", nil
		},
		llm.PurposeExtract:   llmtest.Text(`{"hasAllData": true, "data": {"date": "2025-03-10"}}`),
		llm.PurposeSummarize: llmtest.Text("Booked."),
	})

	skip := calendarIntegration("http://unused.invalid")
	skip.Name = "cancel"
	book := calendarIntegration(first.URL)
	book.Name = "book"
	also := calendarIntegration(second.URL)
	also.Name = "book"

	out, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText:     "book me for today",
		Integrations: []model.Integration{skip, book, also},
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "book", out.Action)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(0), second.calls.Load())
	assert.Equal(t, int32(2), classified.Load())
}

func TestTryActions_ClassifierErrorPropagates(t *testing.T) {
	client := llmtest.New(map[llm.Purpose]llmtest.Reply{
		llm.PurposeClassify: llmtest.Fail(errors.New("rate limited")),
	})
	_, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText:     "hello",
		Integrations: []model.Integration{calendarIntegration("http://x")},
	})
	assert.Error(t, err)
}

func TestTryActions_SkipsNonWebhookIntegrations(t *testing.T) {
	client := llmtest.New(nil)
	out, err := newTestEngine().TryActions(context.Background(), client, Input{
		UserText: "hello",
		Integrations: []model.Integration{
			{Type: model.IntegrationFiles, Name: "docs"},
			{Type: model.IntegrationWebhook, Name: "no url"},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, client.Calls())
}

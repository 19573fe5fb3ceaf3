package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/capitalize-ai/agent-relay/internal/model"
	"github.com/capitalize-ai/agent-relay/pkg/textutil"
)

// ErrExtractionUnparsable is returned when the model's extraction answer
// contains no decodable JSON object.
var ErrExtractionUnparsable = errors.New("action extraction unparsable")

var (
	fencePattern  = regexp.MustCompile("(?s)^```[a-zA-Z0-9]*\\s*(.*?)\\s*```$")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// Extraction is the structured answer of the extraction prompt.
type Extraction struct {
	HasAllData bool           `json:"hasAllData"`
	Data       map[string]any `json:"data,omitempty"`
	Missing    []string       `json:"missing,omitempty"`
}

// ParseExtraction decodes raw, tolerating code fences and prose around the
// object. The result is reconciled against fields: any declared field that
// is absent or blank in Data is reported as missing.
func ParseExtraction(raw string, fields []model.FieldSpec) (*Extraction, error) {
	text := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(text), &ex); err != nil {
		obj := objectPattern.FindString(text)
		if obj == "" {
			return nil, fmt.Errorf("%w: no object in %q", ErrExtractionUnparsable, textutil.Abbreviate(raw, 120))
		}
		if err := json.Unmarshal([]byte(obj), &ex); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtractionUnparsable, err)
		}
	}

	reconcile(&ex, fields)
	return &ex, nil
}

func reconcile(ex *Extraction, fields []model.FieldSpec) {
	seen := make(map[string]bool, len(ex.Missing))
	for _, key := range ex.Missing {
		seen[key] = true
	}
	for _, f := range fields {
		if !present(ex.Data[f.Key]) && !seen[f.Key] {
			ex.Missing = append(ex.Missing, f.Key)
			seen[f.Key] = true
		}
	}
	ex.HasAllData = len(ex.Missing) == 0
	if ex.Data == nil {
		ex.Data = map[string]any{}
	}
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}

package asr

import (
	"encoding/json"
	"fmt"
	"strings"

	"murmur/internal/codec"
	"murmur/internal/domain"
)

// responsePayload tolerates the payload shapes observed from the service.
// The duplicated time fields absorb both snake_case and camelCase keys;
// the unmarshaler's case-insensitive matching covers capitalization drift
// within each convention.
type responsePayload struct {
	Result struct {
		Text       string             `json:"text"`
		Utterances []utterancePayload `json:"utterances"`
		PayloadMsg struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"payload_msg"`
	} `json:"result"`
}

type utterancePayload struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`

	StartTime    int64 `json:"start_time"`
	EndTime      int64 `json:"end_time"`
	StartTimeAlt int64 `json:"startTime"`
	EndTimeAlt   int64 `json:"endTime"`
}

func (u utterancePayload) startMs() int64 {
	if u.StartTime != 0 {
		return u.StartTime
	}
	return u.StartTimeAlt
}

func (u utterancePayload) endMs() int64 {
	if u.EndTime != 0 {
		return u.EndTime
	}
	return u.EndTimeAlt
}

// textExtractors are the tolerated transcript locations, tried in order;
// the first non-empty result wins.
var textExtractors = []func(*responsePayload) string{
	func(r *responsePayload) string {
		return strings.TrimSpace(r.Result.Text)
	},
	func(r *responsePayload) string {
		return strings.TrimSpace(r.Result.PayloadMsg.Result.Text)
	},
	func(r *responsePayload) string {
		var b strings.Builder
		for _, u := range r.Result.Utterances {
			b.WriteString(strings.TrimSpace(u.Text))
		}
		return b.String()
	},
}

// parseResponse extracts a recognition result from a full-response payload.
// ok is false for payloads with no text and no utterances, which must not
// reach the session layer.
func parseResponse(payload []byte) (domain.RecognitionResult, bool, error) {
	if len(payload) == 0 {
		return domain.RecognitionResult{}, false, nil
	}

	var body responsePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.RecognitionResult{}, false, fmt.Errorf("%w: %v", codec.ErrDecode, err)
	}

	var text string
	for _, extract := range textExtractors {
		if text = extract(&body); text != "" {
			break
		}
	}

	var utterances []domain.Utterance
	for _, u := range body.Result.Utterances {
		trimmed := strings.TrimSpace(u.Text)
		if trimmed == "" {
			continue
		}
		utterances = append(utterances, domain.Utterance{
			Text:        trimmed,
			StartTimeMs: u.startMs(),
			EndTimeMs:   u.endMs(),
			IsFinal:     u.Definite,
		})
	}

	if text == "" && len(utterances) == 0 {
		return domain.RecognitionResult{}, false, nil
	}
	return domain.RecognitionResult{Text: text, Utterances: utterances}, true, nil
}

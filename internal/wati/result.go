package wati

import (
	"encoding/json"
	"fmt"
	"strings"
)

type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("wati: api status %d: %s", e.StatusCode, e.Body)
}

// decodeResult normalizes the several response shapes WATI returns across
// its endpoints into one SendResult. Success is any of: result=true, a
// populated message id, status "success", or a bare id field. A body
// carrying none of these indicators is a failure.
func decodeResult(data []byte) SendResult {
	var envelope struct {
		Result  *bool  `json:"result"`
		Status  string `json:"status"`
		ID      string `json:"id"`
		Info    string `json:"info"`
		Message struct {
			WhatsappMessageID string `json:"whatsappMessageId"`
			ID                string `json:"id"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		if len(strings.TrimSpace(string(data))) == 0 {
			return failure(fmt.Errorf("wati: empty response body"))
		}
		return failure(fmt.Errorf("wati: decode response: %w", err))
	}

	id := envelope.Message.WhatsappMessageID
	if id == "" {
		id = envelope.Message.ID
	}
	if id == "" {
		id = envelope.ID
	}

	switch {
	case envelope.Result != nil:
		if *envelope.Result {
			return SendResult{Success: true, ProviderMessageID: id}
		}
		msg := envelope.Info
		if msg == "" {
			msg = "provider reported result=false"
		}
		return failure(fmt.Errorf("wati: %s", msg))
	case strings.EqualFold(envelope.Status, "success"):
		return SendResult{Success: true, ProviderMessageID: id}
	case envelope.Status != "":
		return failure(fmt.Errorf("wati: provider status %q", envelope.Status))
	case id != "":
		return SendResult{Success: true, ProviderMessageID: id}
	default:
		// No result flag, no message id, no status: nothing confirms
		// the send, so report failure rather than guess.
		return failure(fmt.Errorf("wati: response carries no success indicator"))
	}
}

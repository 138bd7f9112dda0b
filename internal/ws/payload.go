package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ref accepts either a bare id string or an object carrying _id, which is
// how clients that echo a stored message refer to users.
type ref string

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ref(s)
		return nil
	}
	var obj struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("reference must be a string or an object with _id: %w", err)
	}
	*r = ref(obj.ID)
	return nil
}

func firstNonEmpty(vals ...ref) string {
	for _, v := range vals {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

type sendPayload struct {
	ID             ref    `json:"_id"`
	MessageID      ref    `json:"messageId"`
	ConversationID ref    `json:"conversationId"`
	SenderID       ref    `json:"senderId"`
	Sender         ref    `json:"sender"`
	ReceiverID     ref    `json:"receiverId"`
	Receiver       ref    `json:"receiver"`
	Text           string `json:"text"`
	Media          string `json:"media"`
}

type readPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type deliveredPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// decodeID reads data as either "id" or {"<field>": "id"}.
func decodeID(data json.RawMessage, field string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", fmt.Errorf("missing %s", field)
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	var r ref
	if raw, ok := obj[field]; ok {
		if err := json.Unmarshal(raw, &r); err != nil {
			return "", err
		}
	}
	if r == "" {
		return "", fmt.Errorf("missing %s", field)
	}
	return string(r), nil
}

package hub

import "encoding/json"

// Envelope is the wire format of every realtime frame, in both directions.
// Ack correlates a reply with the request that asked for it.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// Encode marshals payload into an envelope frame.
func Encode(event, ack string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data, Ack: ack})
}

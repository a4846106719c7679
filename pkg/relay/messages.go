package relay

import "encoding/json"

// Control message types synthesized by the relay itself. Provider traffic
// is forwarded verbatim and never carries these.
const (
	// TypeConnected tells the client the upstream leg is open.
	TypeConnected = "connected"

	// TypeError carries a relay- or upstream-level failure description.
	TypeError = "error"
)

// ControlMessage is a synthetic relay-to-client text message with an
// explicit discriminator, as distinct from forwarded provider payloads.
type ControlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func (m ControlMessage) encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// ParseControlMessage decodes a relay control message. Returns false if the
// payload is not a tagged control message.
func ParseControlMessage(data []byte) (ControlMessage, bool) {
	var m ControlMessage
	if err := json.Unmarshal(data, &m); err != nil || m.Type == "" {
		return ControlMessage{}, false
	}
	return m, true
}

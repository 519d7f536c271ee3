package dispatch

import (
	"encoding/json"
)

// EventNewDeploy is the name subscribers receive deploy events under
const EventNewDeploy = "NewDeploy"

// Event is a deploy notification submitted by a publisher
type Event struct {
	Env    string         `json:"env"`
	Target string         `json:"target"`
	Tag    string         `json:"tag,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Envelope is what travels over the broker: the event plus the groups it
// was resolved to at publish time.
type Envelope struct {
	ID     string            `json:"id"`
	Groups []string          `json:"groups"`
	Event  Event             `json:"event"`
	Trace  map[string]string `json:"trace,omitempty"`
}

// Frame is a server-to-subscriber message
type Frame struct {
	Type  string `json:"type"`
	Group string `json:"group,omitempty"`
	Data  *Event `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// EncodeEvent builds the frame pushed to subscribers for e
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(Frame{Type: EventNewDeploy, Data: &e})
}

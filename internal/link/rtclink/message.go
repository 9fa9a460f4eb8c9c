package rtclink

import "github.com/google/uuid"

type messageType string

const (
	msgProbe     messageType = "probe"     // central → peripheral: who is there?
	msgAdvert    messageType = "advert"    // peripheral → central: name and service
	msgConnect   messageType = "connect"   // central → peripheral: claim the peripheral
	msgOffer     messageType = "offer"     // peripheral → central
	msgAnswer    messageType = "answer"    // central → peripheral
	msgCandidate messageType = "candidate" // both ways, trickled
	msgError     messageType = "error"     // peripheral → central: request refused
)

// message is the JSON structure exchanged over the signaling WebSocket.
type message struct {
	Type      messageType `json:"type"`
	Name      string      `json:"name,omitempty"`
	Service   uuid.UUID   `json:"service,omitzero"`
	Channel   uuid.UUID   `json:"channel,omitzero"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
	Error     string      `json:"error,omitempty"`
}

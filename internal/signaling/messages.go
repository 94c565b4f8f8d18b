package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/retroplay/netplay-service/internal/apperr"
)

// ClientMessage is the envelope a connected peer sends over the signaling
// channel. Payload is an opaque blob interpreted only by the WebRTC peers;
// the gateway validates the envelope, never the payload contents.
type ClientMessage struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
}

// PeerRef identifies a participant to the other side of the relay.
type PeerRef struct {
	UserID        string `json:"userId"`
	ParticipantID string `json:"participantId"`
}

// SignalEvent is the payload delivered to a recipient connection.
type SignalEvent struct {
	Event     string          `json:"event"`
	Type      string          `json:"type"`
	Sender    PeerRef         `json:"sender"`
	Recipient *PeerRef        `json:"recipient,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AdmittedEvent confirms a successful admission to the connecting client.
// PeerToken is set only when admission implicitly minted one for the host.
type AdmittedEvent struct {
	Event         string `json:"event"`
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	PeerToken     string `json:"peerToken,omitempty"`
}

const (
	eventSignalMessage = "signal:message"
	eventAdmitted      = "signal:admitted"
)

// Ack is the synchronous answer to every client message. There is no
// implicit retry; redelivery is the sender's responsibility.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func okAck() Ack { return Ack{Status: "ok"} }

func errorAck(message string) Ack { return Ack{Status: "error", Message: message} }

// RejectedAck is the terminal ack written before closing a connection that
// failed admission. Internal causes are masked.
func RejectedAck(err error) Ack {
	if apperr.KindOf(err) == apperr.KindInternal {
		return errorAck("internal error")
	}
	return errorAck(err.Error())
}

// ParseClientMessage strictly decodes a client envelope. Unknown fields and
// trailing data are rejected so malformed senders fail loudly instead of
// silently losing fields.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("message missing type")
	}
	return msg, nil
}

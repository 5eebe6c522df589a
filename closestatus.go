package mongrel2

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// CloseStatus is the status code carried by a close frame.
type CloseStatus int

// Close status codes.
const (
	CloseNormal           CloseStatus = websocket.CloseNormalClosure
	CloseGoingAway        CloseStatus = websocket.CloseGoingAway
	CloseProtocolError    CloseStatus = websocket.CloseProtocolError
	CloseBadDataType      CloseStatus = websocket.CloseUnsupportedData
	CloseReserved         CloseStatus = 1004
	CloseMissingStatus    CloseStatus = websocket.CloseNoStatusReceived
	CloseAbnormal         CloseStatus = websocket.CloseAbnormalClosure
	CloseBadData          CloseStatus = websocket.CloseInvalidFramePayloadData
	ClosePolicyViolation  CloseStatus = websocket.ClosePolicyViolation
	CloseMessageTooLarge  CloseStatus = websocket.CloseMessageTooBig
	CloseMissingExtension CloseStatus = websocket.CloseMandatoryExtension
	CloseException        CloseStatus = websocket.CloseInternalServerErr
	CloseTLSError         CloseStatus = websocket.CloseTLSHandshake
)

var closeDescriptions = map[CloseStatus]string{
	CloseNormal:           "Session closed normally.",
	CloseGoingAway:        "Endpoint going away.",
	CloseProtocolError:    "Protocol error.",
	CloseBadDataType:      "Unhandled data type.",
	CloseReserved:         "Reserved for future use.",
	CloseMissingStatus:    "No status code was present.",
	CloseAbnormal:         "Abnormal close.",
	CloseBadData:          "Bad or malformed data.",
	ClosePolicyViolation:  "Policy violation.",
	CloseMessageTooLarge:  "Message too large for endpoint.",
	CloseMissingExtension: "Missing extension.",
	CloseException:        "Unexpected condition/exception.",
	CloseTLSError:         "TLS handshake failure.",
}

// Description returns the human readable text of the status, or "" for
// codes without one.
func (s CloseStatus) Description() string {
	return closeDescriptions[s]
}

// Reserved reports codes that must never be sent in a close frame.
func (s CloseStatus) Reserved() bool {
	switch s {
	case CloseReserved, CloseMissingStatus, CloseAbnormal, CloseTLSError:
		return true
	}
	return false
}

func (s CloseStatus) String() string {
	if d := s.Description(); d != "" {
		return fmt.Sprintf("%d %s", int(s), d)
	}
	return fmt.Sprintf("%d", int(s))
}

func (s CloseStatus) message() string {
	return s.String() + "\n"
}

package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

/* --- |-------------------------------| ---
   --- | 1. Outbound Frames            | ---
   --- |-------------------------------| --- */

// Wire message types.
const (
	msgTypeReq    = "REQ"
	msgTypeClose  = "CLOSE"
	msgTypeEvent  = "EVENT"
	msgTypeEOSE   = "EOSE"
	msgTypeOK     = "OK"
	msgTypeClosed = "CLOSED"
	msgTypeNotice = "NOTICE"
	msgTypeAuth   = "AUTH"
)

// marshalFrame builds the JSON array ["TYPE", args...] that the protocol
// speaks in both directions.
func marshalFrame(msgType string, args ...interface{}) ([]byte, error) {
	return json.Marshal(append([]interface{}{msgType}, args...))
}

func reqFrame(id string, filters []nostr.Filter) ([]byte, error) {
	args := make([]interface{}, 0, len(filters)+1)
	args = append(args, id)
	for i := range filters {
		args = append(args, filters[i])
	}
	return marshalFrame(msgTypeReq, args...)
}

func closeFrame(id string) ([]byte, error) {
	return marshalFrame(msgTypeClose, id)
}

func eventFrame(evt *nostr.Event) ([]byte, error) {
	return marshalFrame(msgTypeEvent, evt)
}

func authFrame(evt *nostr.Event) ([]byte, error) {
	return marshalFrame(msgTypeAuth, evt)
}

/* --- |-------------------------------| ---
   --- | 2. Inbound Frames             | ---
   --- |-------------------------------| --- */

// frame is a decoded inbound relay message. Only the fields relevant to the
// message type are populated.
type frame struct {
	Type    string
	SubID   string       // EVENT, EOSE, CLOSED
	Event   *nostr.Event // EVENT
	EventID string       // OK
	OK      bool         // OK
	Message string       // OK, CLOSED, NOTICE, AUTH challenge
}

// parseFrame decodes a raw inbound message. Unknown message types decode to
// a frame carrying only the type so the caller can count and skip them.
func parseFrame(raw []byte) (*frame, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var msgType string
	if err := json.Unmarshal(arr[0], &msgType); err != nil {
		return nil, fmt.Errorf("frame type is not a string: %w", err)
	}
	f := &frame{Type: msgType}

	switch msgType {
	case msgTypeEvent:
		if len(arr) < 3 {
			return nil, fmt.Errorf("EVENT frame needs subscription id and event")
		}
		if err := json.Unmarshal(arr[1], &f.SubID); err != nil {
			return nil, fmt.Errorf("EVENT subscription id: %w", err)
		}
		var evt nostr.Event
		if err := json.Unmarshal(arr[2], &evt); err != nil {
			return nil, fmt.Errorf("EVENT payload: %w", err)
		}
		f.Event = &evt

	case msgTypeEOSE:
		if len(arr) < 2 {
			return nil, fmt.Errorf("EOSE frame needs subscription id")
		}
		if err := json.Unmarshal(arr[1], &f.SubID); err != nil {
			return nil, fmt.Errorf("EOSE subscription id: %w", err)
		}

	case msgTypeOK:
		if len(arr) < 3 {
			return nil, fmt.Errorf("OK frame needs event id and verdict")
		}
		if err := json.Unmarshal(arr[1], &f.EventID); err != nil {
			return nil, fmt.Errorf("OK event id: %w", err)
		}
		if err := json.Unmarshal(arr[2], &f.OK); err != nil {
			return nil, fmt.Errorf("OK verdict: %w", err)
		}
		if len(arr) > 3 {
			_ = json.Unmarshal(arr[3], &f.Message)
		}

	case msgTypeClosed:
		if len(arr) < 2 {
			return nil, fmt.Errorf("CLOSED frame needs subscription id")
		}
		if err := json.Unmarshal(arr[1], &f.SubID); err != nil {
			return nil, fmt.Errorf("CLOSED subscription id: %w", err)
		}
		if len(arr) > 2 {
			_ = json.Unmarshal(arr[2], &f.Message)
		}

	case msgTypeNotice, msgTypeAuth:
		if len(arr) > 1 {
			_ = json.Unmarshal(arr[1], &f.Message)
		}
	}

	return f, nil
}

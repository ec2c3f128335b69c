package relay

import (
	"encoding/json"
	"testing"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

func TestReqFrame(t *testing.T) {
	filters := []nostr.Filter{
		{Kinds: []int{1}, Limit: 10},
		{Authors: []string{"abc"}},
	}
	raw, err := reqFrame("feed-1", filters)
	require.NoError(t, err)

	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &arr))
	require.Len(t, arr, 4)

	var msgType, id string
	require.NoError(t, json.Unmarshal(arr[0], &msgType))
	require.NoError(t, json.Unmarshal(arr[1], &id))
	require.Equal(t, "REQ", msgType)
	require.Equal(t, "feed-1", id)

	var f nostr.Filter
	require.NoError(t, json.Unmarshal(arr[2], &f))
	require.Equal(t, []int{1}, f.Kinds)
	require.Equal(t, 10, f.Limit)
}

func TestCloseFrame(t *testing.T) {
	raw, err := closeFrame("feed")
	require.NoError(t, err)
	require.JSONEq(t, `["CLOSE","feed"]`, string(raw))
}

func TestEventFrame(t *testing.T) {
	evt := &nostr.Event{
		ID:        "eid",
		PubKey:    "pk",
		Kind:      1,
		CreatedAt: nostr.Timestamp(1700000000),
		Content:   "hello",
	}
	raw, err := eventFrame(evt)
	require.NoError(t, err)

	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &arr))
	require.Len(t, arr, 2)

	var decoded nostr.Event
	require.NoError(t, json.Unmarshal(arr[1], &decoded))
	require.Equal(t, "eid", decoded.ID)
	require.Equal(t, "hello", decoded.Content)
}

func TestParseEventFrame(t *testing.T) {
	raw := []byte(`["EVENT","feed-2",{"id":"eid","pubkey":"pk","created_at":1700000000,"kind":1,"tags":[],"content":"hi","sig":"s"}]`)
	f, err := parseFrame(raw)
	require.NoError(t, err)
	require.Equal(t, "EVENT", f.Type)
	require.Equal(t, "feed-2", f.SubID)
	require.NotNil(t, f.Event)
	require.Equal(t, "eid", f.Event.ID)
	require.Equal(t, 1, f.Event.Kind)
}

func TestParseEOSEFrame(t *testing.T) {
	f, err := parseFrame([]byte(`["EOSE","feed"]`))
	require.NoError(t, err)
	require.Equal(t, "EOSE", f.Type)
	require.Equal(t, "feed", f.SubID)
}

func TestParseOKFrame(t *testing.T) {
	f, err := parseFrame([]byte(`["OK","eid",true,""]`))
	require.NoError(t, err)
	require.Equal(t, "OK", f.Type)
	require.Equal(t, "eid", f.EventID)
	require.True(t, f.OK)

	f, err = parseFrame([]byte(`["OK","eid",false,"blocked: spam"]`))
	require.NoError(t, err)
	require.False(t, f.OK)
	require.Equal(t, "blocked: spam", f.Message)
}

func TestParseClosedFrame(t *testing.T) {
	f, err := parseFrame([]byte(`["CLOSED","feed","auth-required: please authenticate"]`))
	require.NoError(t, err)
	require.Equal(t, "CLOSED", f.Type)
	require.Equal(t, "feed", f.SubID)
	require.Equal(t, "auth-required: please authenticate", f.Message)
}

func TestParseNoticeAndAuthFrames(t *testing.T) {
	f, err := parseFrame([]byte(`["NOTICE","slow down"]`))
	require.NoError(t, err)
	require.Equal(t, "NOTICE", f.Type)
	require.Equal(t, "slow down", f.Message)

	f, err = parseFrame([]byte(`["AUTH","challenge-string"]`))
	require.NoError(t, err)
	require.Equal(t, "AUTH", f.Type)
	require.Equal(t, "challenge-string", f.Message)
}

func TestParseUnknownFrameType(t *testing.T) {
	f, err := parseFrame([]byte(`["COUNT","sub",{"count":5}]`))
	require.NoError(t, err)
	require.Equal(t, "COUNT", f.Type)
}

func TestParseFrameErrors(t *testing.T) {
	bad := [][]byte{
		[]byte(`{"not":"an array"}`),
		[]byte(`[]`),
		[]byte(`[42]`),
		[]byte(`["EVENT","only-sub-id"]`),
		[]byte(`["EOSE"]`),
		[]byte(`["OK","eid"]`),
		[]byte(`not json at all`),
	}
	for _, raw := range bad {
		_, err := parseFrame(raw)
		require.Error(t, err, "expected parse failure for %s", raw)
	}
}

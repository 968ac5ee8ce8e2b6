package tracker

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, kind string, ts float64, fields map[string]interface{}) Event {
	t.Helper()
	ev, err := NewEvent(kind, ts, fields)
	require.NoError(t, err)
	return ev
}

func TestEventJSONPreservesUnknownKeys(t *testing.T) {
	raw := `{"event":"user","timestamp":12.5,"text":"hi","parse_data":{"intent":{"name":"greet"}}}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, KindUser, ev.Kind)
	assert.Equal(t, 12.5, ev.Timestamp)
	assert.Equal(t, "hi", ev.StringField("text"))

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestEventsAfterIsStrict(t *testing.T) {
	evs := []Event{
		mustEvent(t, KindUser, 9, nil),
		mustEvent(t, KindBot, 10, nil),
		mustEvent(t, KindUser, 11, nil),
		mustEvent(t, KindBot, 12, nil),
	}
	got := EventsAfter(evs, 10)
	require.Len(t, got, 2)
	assert.Equal(t, 11.0, got[0].Timestamp)
	assert.Equal(t, 12.0, got[1].Timestamp)
}

func TestSnapshotCloneDoesNotAlias(t *testing.T) {
	snap := Snapshot{
		SenderID: "s1",
		Events:   []Event{mustEvent(t, KindUser, 1, map[string]interface{}{"text": "a"})},
	}
	cp := snap.Clone()
	cp.Events[0].Fields["text"] = json.RawMessage(`"b"`)
	cp.Events = append(cp.Events, mustEvent(t, KindBot, 2, nil))

	assert.Equal(t, "a", snap.Events[0].StringField("text"))
	assert.Len(t, snap.Events, 1)
}

func TestWithEventsUpdatesLatestEventTime(t *testing.T) {
	snap := Snapshot{SenderID: "s1", LatestEventTime: 5}

	assert.Equal(t, 5.0, snap.WithEvents(nil).LatestEventTime)
	assert.Equal(t, 7.0, snap.WithEvents([]Event{mustEvent(t, KindUser, 7, nil)}).LatestEventTime)
}

func TestSyncMetadataAdvanceNeverRegressesTimestamp(t *testing.T) {
	cur := SyncMetadata{LastIndex: 4, LastTimestamp: 40}

	next := cur.Advance(SyncMetadata{LastIndex: 2, LastTimestamp: 20})
	assert.Equal(t, int64(2), next.LastIndex)
	assert.Equal(t, 40.0, next.LastTimestamp)

	next = cur.Advance(SyncMetadata{LastIndex: 6, LastTimestamp: 60})
	assert.Equal(t, SyncMetadata{LastIndex: 6, LastTimestamp: 60}, next)
}

func TestFromSnapshotReplaysSlots(t *testing.T) {
	domain := &Domain{Slots: []SlotSpec{{Name: "city"}, {Name: "count", InitialValue: float64(0)}}}
	snap := Snapshot{
		SenderID: "s1",
		Events: []Event{
			mustEvent(t, KindUser, 1, map[string]interface{}{"text": "weather in paris"}),
			mustEvent(t, KindSlot, 2, map[string]interface{}{"name": "city", "value": "paris"}),
			mustEvent(t, KindAction, 3, map[string]interface{}{"name": "action_weather"}),
			mustEvent(t, KindPause, 4, nil),
		},
		LatestEventTime: 4,
	}

	tr := FromSnapshot(snap, domain)
	want := map[string]interface{}{"city": "paris", "count": float64(0)}
	if diff := cmp.Diff(want, tr.Slots); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "weather in paris", tr.LatestMessage)
	assert.Equal(t, "action_weather", tr.LatestActionName)
	assert.True(t, tr.Paused)
}

func TestFromSnapshotRestartClearsState(t *testing.T) {
	snap := Snapshot{
		SenderID: "s1",
		Events: []Event{
			mustEvent(t, KindSlot, 1, map[string]interface{}{"name": "city", "value": "rome"}),
			mustEvent(t, KindRestart, 2, nil),
		},
	}

	tr := FromSnapshot(snap, nil)
	assert.Empty(t, tr.Slots)
	assert.Empty(t, tr.LatestMessage)
}

func TestTrackerSnapshotRoundTrip(t *testing.T) {
	tr := FromSnapshot(Snapshot{SenderID: "s1"}, nil)
	tr.Append(mustEvent(t, KindUser, 3, map[string]interface{}{"text": "hello"}))

	snap, err := tr.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.SenderID)
	assert.Equal(t, 3.0, snap.LatestEventTime)
	require.Len(t, snap.Events, 1)
	assert.JSONEq(t, `{"text":"hello"}`, string(snap.LatestMessage))
}

func TestTrackerSnapshotKeepsUnmodeledState(t *testing.T) {
	raw := `{
		"sender_id": "s1",
		"events": [
			{"event": "user", "timestamp": 1, "text": "hi", "parse_data": {"intent": {"name": "greet"}}},
			{"event": "action", "timestamp": 2, "name": "booking_form"}
		],
		"latest_event_time": 2,
		"latest_message": {"text": "hi", "intent": {"name": "greet", "confidence": 0.9}, "entities": []},
		"latest_action_name": "booking_form",
		"followup_action": "action_listen",
		"active_form": {"name": "booking_form", "validate": true},
		"paused": false
	}`
	var in Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &in))

	out, err := FromSnapshot(in, nil).Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "action_listen", out.FollowupAction)
	assert.JSONEq(t, string(in.ActiveForm), string(out.ActiveForm))
	assert.JSONEq(t, string(in.LatestMessage), string(out.LatestMessage))
	assert.Equal(t, "booking_form", out.LatestActionName)
}

func TestTrackerAppendReplacesLatestMessage(t *testing.T) {
	in := Snapshot{
		SenderID:      "s1",
		Events:        []Event{mustEvent(t, KindUser, 1, map[string]interface{}{"text": "hi"})},
		LatestMessage: json.RawMessage(`{"text":"hi","intent":{"name":"greet"}}`),
		ActiveForm:    json.RawMessage(`{"name":"booking_form"}`),
	}
	tr := FromSnapshot(in, nil)
	tr.Append(mustEvent(t, KindUser, 2, map[string]interface{}{
		"text":       "book a table",
		"parse_data": map[string]interface{}{"intent": map[string]interface{}{"name": "book"}},
	}))

	out, err := tr.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"book a table","intent":{"name":"book"}}`, string(out.LatestMessage))
	assert.JSONEq(t, `{"name":"booking_form"}`, string(out.ActiveForm))
	assert.Equal(t, "hi", messageText(in.LatestMessage), "input snapshot is not modified")
}

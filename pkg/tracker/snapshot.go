package tracker

import "encoding/json"

// NoSync is the LastIndex of a session that has never been synchronized.
const NoSync int64 = -1

// Snapshot is the serialized form of one session's tracker. Everything
// besides SenderID, Events and LatestEventTime is opaque state carried
// through to and from the remote store.
type Snapshot struct {
	SenderID         string          `json:"sender_id"`
	Events           []Event         `json:"events"`
	LatestEventTime  float64         `json:"latest_event_time"`
	Slots            json.RawMessage `json:"slots,omitempty"`
	LatestMessage    json.RawMessage `json:"latest_message,omitempty"`
	LatestActionName string          `json:"latest_action_name,omitempty"`
	FollowupAction   string          `json:"followup_action,omitempty"`
	ActiveForm       json.RawMessage `json:"active_form,omitempty"`
	Paused           bool            `json:"paused"`
}

// Clone returns a deep copy so cached state never aliases caller memory.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Events = CloneEvents(s.Events)
	out.Slots = cloneRaw(s.Slots)
	out.LatestMessage = cloneRaw(s.LatestMessage)
	out.ActiveForm = cloneRaw(s.ActiveForm)
	return out
}

// WithEvents returns a copy of s carrying evs. LatestEventTime follows the
// last event when there is one and is otherwise left unchanged.
func (s Snapshot) WithEvents(evs []Event) Snapshot {
	out := s.Clone()
	out.Events = CloneEvents(evs)
	if ts, ok := LastTimestamp(out.Events); ok {
		out.LatestEventTime = ts
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// SyncMetadata records how far the local copy agrees with the remote store.
type SyncMetadata struct {
	LastIndex     int64   `json:"lastIndex"`
	LastTimestamp float64 `json:"lastTimestamp"`
}

// Unsynced is the metadata of a session the process has never synchronized.
func Unsynced() SyncMetadata {
	return SyncMetadata{LastIndex: NoSync}
}

// Advance takes the remote's acknowledged index as-is but never lets the
// acknowledged timestamp move backwards.
func (m SyncMetadata) Advance(next SyncMetadata) SyncMetadata {
	out := next
	if m.LastTimestamp > out.LastTimestamp {
		out.LastTimestamp = m.LastTimestamp
	}
	return out
}

package tracker

import "encoding/json"

// SlotSpec declares one slot of the dialogue domain and its initial value.
type SlotSpec struct {
	Name         string      `json:"name" yaml:"name"`
	InitialValue interface{} `json:"initial_value,omitempty" yaml:"initial_value,omitempty"`
}

// Domain is the part of the dialogue domain needed to rebuild tracker state.
type Domain struct {
	Slots []SlotSpec `json:"slots" yaml:"slots"`
}

// Tracker is the caller-facing dialogue state rebuilt from a snapshot.
type Tracker struct {
	SenderID         string                 `json:"sender_id"`
	Events           []Event                `json:"events"`
	Slots            map[string]interface{} `json:"slots"`
	LatestMessage    string                 `json:"latest_message,omitempty"`
	LatestActionName string                 `json:"latest_action_name,omitempty"`
	LatestEventTime  float64                `json:"latest_event_time"`
	Paused           bool                   `json:"paused"`

	// base holds the snapshot state the view does not model, such as the
	// active form, the followup action and the full latest message.
	base Snapshot
}

// FromSnapshot replays the snapshot's events over the domain's initial slot
// values. With a nil domain only slots set by events are present.
func FromSnapshot(snap Snapshot, domain *Domain) *Tracker {
	t := &Tracker{
		SenderID:         snap.SenderID,
		Events:           CloneEvents(snap.Events),
		Slots:            initialSlots(domain),
		LatestEventTime:  snap.LatestEventTime,
		LatestActionName: snap.LatestActionName,
		Paused:           snap.Paused,
		base:             snap.Clone(),
	}
	t.base.Events = nil
	t.LatestMessage = messageText(snap.LatestMessage)

	for _, ev := range t.Events {
		switch ev.Kind {
		case KindUser:
			t.LatestMessage = ev.StringField("text")
		case KindAction:
			t.LatestActionName = ev.StringField("name")
		case KindSlot:
			name := ev.StringField("name")
			if name == "" {
				continue
			}
			var v interface{}
			if _, err := ev.Field("value", &v); err != nil {
				continue
			}
			t.Slots[name] = v
		case KindResetSlots:
			t.Slots = initialSlots(domain)
		case KindRestart:
			t.Slots = initialSlots(domain)
			t.LatestMessage = ""
			t.LatestActionName = ""
			t.Paused = false
		case KindPause:
			t.Paused = true
		case KindResume:
			t.Paused = false
		}
	}
	return t
}

func initialSlots(domain *Domain) map[string]interface{} {
	slots := make(map[string]interface{})
	if domain == nil {
		return slots
	}
	for _, s := range domain.Slots {
		slots[s.Name] = s.InitialValue
	}
	return slots
}

// Snapshot serializes the tracker back into the form stored remotely.
// State the tracker does not model is carried over from the snapshot it was
// built from.
func (t *Tracker) Snapshot() (Snapshot, error) {
	snap := t.base.Clone()
	snap.SenderID = t.SenderID
	snap.Events = CloneEvents(t.Events)
	snap.LatestEventTime = t.LatestEventTime
	snap.LatestActionName = t.LatestActionName
	snap.Paused = t.Paused
	snap.Slots = nil
	if ts, ok := LastTimestamp(snap.Events); ok && ts > snap.LatestEventTime {
		snap.LatestEventTime = ts
	}
	if len(t.Slots) > 0 {
		raw, err := json.Marshal(t.Slots)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Slots = raw
	}
	if t.LatestMessage == "" {
		snap.LatestMessage = nil
	} else if !sameText(snap.LatestMessage, t.LatestMessage) {
		raw, err := json.Marshal(map[string]string{"text": t.LatestMessage})
		if err != nil {
			return Snapshot{}, err
		}
		snap.LatestMessage = raw
	}
	return snap, nil
}

func sameText(raw json.RawMessage, text string) bool {
	return len(raw) > 0 && messageText(raw) == text
}

func messageText(raw json.RawMessage) string {
	var msg struct {
		Text string `json:"text"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &msg) != nil {
		return ""
	}
	return msg.Text
}

// Append adds events to the tracker in place, keeping them ordered.
func (t *Tracker) Append(evs ...Event) {
	t.Events = append(t.Events, CloneEvents(evs)...)
	SortEvents(t.Events)
	if ts, ok := LastTimestamp(t.Events); ok && ts > t.LatestEventTime {
		t.LatestEventTime = ts
	}
	for _, ev := range evs {
		switch ev.Kind {
		case KindUser:
			t.LatestMessage = ev.StringField("text")
			t.base.LatestMessage = latestMessageOf(ev)
		case KindAction:
			t.LatestActionName = ev.StringField("name")
		}
	}
}

// latestMessageOf builds the latest_message object for a user event.
func latestMessageOf(ev Event) json.RawMessage {
	msg := map[string]json.RawMessage{}
	if v, ok := ev.Fields["parse_data"]; ok {
		var pd map[string]json.RawMessage
		if json.Unmarshal(v, &pd) == nil {
			for k, raw := range pd {
				msg[k] = raw
			}
		}
	}
	for _, k := range []string{"text", "message_id", "input_channel"} {
		if v, ok := ev.Fields[k]; ok {
			msg[k] = v
		}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return raw
}

package tracker

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Event kinds emitted by the dialogue engine that the tracker view interprets.
// Any other kind is carried through untouched.
const (
	KindUser       = "user"
	KindBot        = "bot"
	KindAction     = "action"
	KindSlot       = "slot"
	KindResetSlots = "reset_slots"
	KindRestart    = "restart"
	KindPause      = "pause"
	KindResume     = "resume"
)

// Event is one immutable dialogue record. Only the kind and timestamp are
// interpreted by the sync engine; every other key is preserved verbatim.
type Event struct {
	Kind      string
	Timestamp float64
	Fields    map[string]json.RawMessage
}

func NewEvent(kind string, ts float64, fields map[string]interface{}) (Event, error) {
	ev := Event{Kind: kind, Timestamp: ts}
	if len(fields) == 0 {
		return ev, nil
	}
	ev.Fields = make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k == "event" || k == "timestamp" {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return Event{}, fmt.Errorf("encode event field %q: %w", k, err)
		}
		ev.Fields[k] = raw
	}
	return ev, nil
}

// Field decodes the named payload field into v. It reports false when the
// field is absent.
func (e Event) Field(name string, v interface{}) (bool, error) {
	raw, ok := e.Fields[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode event field %q: %w", name, err)
	}
	return true, nil
}

// StringField returns the named field as a string, or "" when absent or not a string.
func (e Event) StringField(name string) string {
	var s string
	if ok, err := e.Field(name, &s); !ok || err != nil {
		return ""
	}
	return s
}

func (e Event) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Clone returns a copy that shares no memory with e.
func (e Event) Clone() Event {
	out := Event{Kind: e.Kind, Timestamp: e.Timestamp}
	if e.Fields != nil {
		out.Fields = make(map[string]json.RawMessage, len(e.Fields))
		for k, v := range e.Fields {
			out.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(e.Fields)+2)
	for k, v := range e.Fields {
		m[k] = v
	}
	kind, err := json.Marshal(e.Kind)
	if err != nil {
		return nil, err
	}
	ts, err := json.Marshal(e.Timestamp)
	if err != nil {
		return nil, err
	}
	m["event"] = kind
	m["timestamp"] = ts
	return json.Marshal(m)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = Event{}
	if raw, ok := m["event"]; ok {
		if err := json.Unmarshal(raw, &e.Kind); err != nil {
			return fmt.Errorf("decode event kind: %w", err)
		}
		delete(m, "event")
	}
	if raw, ok := m["timestamp"]; ok {
		if string(raw) != "null" {
			if err := json.Unmarshal(raw, &e.Timestamp); err != nil {
				return fmt.Errorf("decode event timestamp: %w", err)
			}
		}
		delete(m, "timestamp")
	}
	if len(m) > 0 {
		e.Fields = m
	}
	return nil
}

// CloneEvents returns a deep copy of evs.
func CloneEvents(evs []Event) []Event {
	if evs == nil {
		return nil
	}
	out := make([]Event, len(evs))
	for i, ev := range evs {
		out[i] = ev.Clone()
	}
	return out
}

// LastTimestamp returns the timestamp of the final event, and false when evs is empty.
func LastTimestamp(evs []Event) (float64, bool) {
	if len(evs) == 0 {
		return 0, false
	}
	return evs[len(evs)-1].Timestamp, true
}

// EventsAfter returns the events whose timestamp is strictly greater than ts.
func EventsAfter(evs []Event, ts float64) []Event {
	out := make([]Event, 0, len(evs))
	for _, ev := range evs {
		if ev.Timestamp > ts {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// SortEvents orders evs by timestamp, keeping arrival order for equal timestamps.
func SortEvents(evs []Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].Timestamp < evs[j].Timestamp
	})
}

// Timestamp converts t to the float seconds representation events carry.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

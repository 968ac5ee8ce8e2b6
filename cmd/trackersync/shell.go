package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/trackersync/pkg/tracker"
	"github.com/dotsetgreg/trackersync/pkg/trackerstore"
	"github.com/google/uuid"
)

const (
	echoAction   = "action_echo"
	listenAction = "action_listen"
)

// shell drives one session through the tracker store, one turn per line.
type shell struct {
	store     *trackerstore.Store
	sessionID string
	now       func() time.Time
}

type turnResult struct {
	Reply  string
	Events int
}

// turn retrieves the session, appends the events for input and saves it.
// "/slot name=value" records a slot instead of a user message.
func (s *shell) turn(ctx context.Context, input string) (turnResult, error) {
	tr, ok := s.store.Retrieve(ctx, s.sessionID)
	if !ok {
		tr = s.store.NewTracker(s.sessionID)
	}

	evs, reply, err := s.eventsFor(input, tracker.Timestamp(s.now()))
	if err != nil {
		return turnResult{}, err
	}
	tr.Append(evs...)

	snap, err := tr.Snapshot()
	if err != nil {
		return turnResult{}, err
	}
	saved, err := s.store.Save(ctx, snap)
	if err != nil {
		return turnResult{}, err
	}
	return turnResult{Reply: reply, Events: len(saved)}, nil
}

func (s *shell) eventsFor(input string, ts float64) ([]tracker.Event, string, error) {
	if rest, ok := strings.CutPrefix(input, "/slot "); ok {
		name, value, found := strings.Cut(strings.TrimSpace(rest), "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, "", fmt.Errorf("usage: /slot name=value")
		}
		ev, err := tracker.NewEvent(tracker.KindSlot, ts, map[string]interface{}{
			"name":  name,
			"value": strings.TrimSpace(value),
		})
		if err != nil {
			return nil, "", err
		}
		return []tracker.Event{ev}, fmt.Sprintf("slot %s set", name), nil
	}

	// Distinct timestamps keep the events of a turn ordered.
	const step = 0.001
	user, err := tracker.NewEvent(tracker.KindUser, ts, map[string]interface{}{
		"text":       input,
		"message_id": uuid.NewString(),
	})
	if err != nil {
		return nil, "", err
	}
	action, err := tracker.NewEvent(tracker.KindAction, ts+step, map[string]interface{}{"name": echoAction})
	if err != nil {
		return nil, "", err
	}
	reply := "you said: " + input
	bot, err := tracker.NewEvent(tracker.KindBot, ts+2*step, map[string]interface{}{"text": reply})
	if err != nil {
		return nil, "", err
	}
	listen, err := tracker.NewEvent(tracker.KindAction, ts+3*step, map[string]interface{}{"name": listenAction})
	if err != nil {
		return nil, "", err
	}
	return []tracker.Event{user, action, bot, listen}, reply, nil
}

package trackerstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dotsetgreg/trackersync/pkg/logger"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
)

const (
	DefaultListenAction = "action_listen"
	DefaultResponseSlot = "latest_response_name"
)

// Turn is one completed exchange: the user message that opened it and what
// the bot answered before listening again.
type Turn struct {
	SessionID     string          `json:"session_id"`
	UserEvent     tracker.Event   `json:"user_event"`
	BotEvents     []tracker.Event `json:"bot_events"`
	ResponseNames []string        `json:"response_names"`
	Intent        string          `json:"intent,omitempty"`
	Language      string          `json:"language,omitempty"`
	InputChannel  string          `json:"input_channel,omitempty"`
}

// TurnSink receives every turn completed by a successful Save.
type TurnSink interface {
	RecordTurn(ctx context.Context, turn Turn) error
}

type TurnSinkFunc func(ctx context.Context, turn Turn) error

func (f TurnSinkFunc) RecordTurn(ctx context.Context, turn Turn) error { return f(ctx, turn) }

// TurnConfig controls how turns are cut out of a session's events.
type TurnConfig struct {
	// ListenAction marks the end of a turn when it is the last event saved.
	ListenAction string
	// ResponseSlot is a slot whose value names the response a custom action
	// sent.
	ResponseSlot string
	// SpecialResponses maps action names to the response name they stand for.
	SpecialResponses map[string]string
}

func (c TurnConfig) withDefaults() TurnConfig {
	if c.ListenAction == "" {
		c.ListenAction = DefaultListenAction
	}
	if c.ResponseSlot == "" {
		c.ResponseSlot = DefaultResponseSlot
	}
	return c
}

// WithTurnSinks reports each turn completed by a Save to sinks. Sink errors
// are logged and never fail the Save.
func WithTurnSinks(cfg TurnConfig, sinks ...TurnSink) Option {
	return func(s *Store) {
		s.turnCfg = cfg.withDefaults()
		s.turnSinks = append(s.turnSinks, sinks...)
	}
}

// LatestTurn walks back from the end of events to the most recent user
// message. It reports false when the events do not end with the listen
// action or no user message precedes it.
func LatestTurn(sessionID string, events []tracker.Event, cfg TurnConfig) (Turn, bool) {
	cfg = cfg.withDefaults()
	if len(events) == 0 || !isListen(events[len(events)-1], cfg.ListenAction) {
		return Turn{}, false
	}

	turn := Turn{SessionID: sessionID, BotEvents: []tracker.Event{}, ResponseNames: []string{}}
	found := false
	for i := len(events) - 1; i >= 0 && !found; i-- {
		ev := events[i]
		switch ev.Kind {
		case tracker.KindBot:
			turn.BotEvents = prepend(turn.BotEvents, ev.Clone())
		case tracker.KindSlot:
			if ev.StringField("name") == cfg.ResponseSlot {
				if v := ev.StringField("value"); v != "" {
					turn.ResponseNames = prepend(turn.ResponseNames, v)
				}
			}
		case tracker.KindAction:
			name := ev.StringField("name")
			if strings.HasPrefix(name, "utter") {
				turn.ResponseNames = prepend(turn.ResponseNames, name)
			}
			if resp, ok := cfg.SpecialResponses[name]; ok {
				turn.ResponseNames = prepend(turn.ResponseNames, resp)
			}
		case tracker.KindUser:
			turn.UserEvent = ev.Clone()
			found = true
		}
	}
	if !found {
		return Turn{}, false
	}

	pd := parseData(turn.UserEvent)
	turn.Intent = pd.Intent.Name
	turn.InputChannel = turn.UserEvent.StringField("input_channel")
	turn.Language = latestLanguage(events)
	return turn, true
}

func isListen(ev tracker.Event, listen string) bool {
	return ev.Kind == tracker.KindAction && ev.StringField("name") == listen
}

func prepend[T any](s []T, v T) []T {
	return append([]T{v}, s...)
}

type userParseData struct {
	Intent struct {
		Name string `json:"name"`
	} `json:"intent"`
	Language     string          `json:"language"`
	OriginalData json.RawMessage `json:"original_data"`
}

// parseData returns the NLU result of a user event, preferring the
// pre-translation original_data when present.
func parseData(ev tracker.Event) userParseData {
	var pd userParseData
	if ok, err := ev.Field("parse_data", &pd); !ok || err != nil {
		return userParseData{}
	}
	if len(pd.OriginalData) > 0 {
		var orig userParseData
		if err := json.Unmarshal(pd.OriginalData, &orig); err == nil {
			return orig
		}
	}
	return pd
}

func latestLanguage(events []tracker.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind != tracker.KindUser {
			continue
		}
		if lang := parseData(events[i]).Language; lang != "" {
			return lang
		}
	}
	return ""
}

// reportTurn hands the latest turn in events to every sink.
func (s *Store) reportTurn(ctx context.Context, sessionID string, events []tracker.Event) {
	if len(s.turnSinks) == 0 {
		return
	}
	turn, ok := LatestTurn(sessionID, events, s.turnCfg)
	if !ok {
		return
	}
	s.stats.turns.Add(1)
	for _, sink := range s.turnSinks {
		if err := sink.RecordTurn(ctx, turn); err != nil {
			s.stats.turnSinkFailures.Add(1)
			logger.WarnCF("trackerstore", "Turn sink failed", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
}

// LogTurnSink writes each turn to the log.
func LogTurnSink() TurnSink {
	return TurnSinkFunc(func(_ context.Context, turn Turn) error {
		logger.InfoCF("turns", "Turn completed", map[string]interface{}{
			"session_id":     turn.SessionID,
			"user_text":      turn.UserEvent.StringField("text"),
			"bot_messages":   len(turn.BotEvents),
			"response_names": turn.ResponseNames,
			"intent":         turn.Intent,
			"language":       turn.Language,
		})
		return nil
	})
}

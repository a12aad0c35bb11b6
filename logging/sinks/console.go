package sinks

import (
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"orbfall/server/logging"
)

// Console renders events for humans via zerolog's console writer.
type Console struct {
	logger zerolog.Logger
}

func NewConsole(w io.Writer, cfg logging.ConsoleConfig) *Console {
	if w == nil {
		w = io.Discard
	}
	writer := zerolog.ConsoleWriter{Out: w, NoColor: !cfg.UseColor, TimeFormat: "15:04:05.000"}
	return &Console{logger: zerolog.New(writer).With().Timestamp().Logger()}
}

func (s *Console) Write(event logging.Event) error {
	entry := s.logger.WithLevel(zerologLevel(event.Severity)).
		Str("event", string(event.Type)).
		Uint64("tick", event.Tick)
	if event.Actor.ID != "" || event.Actor.Kind != "" {
		entry = entry.Str("actor", formatEntity(event.Actor))
	}
	if len(event.Targets) > 0 {
		entry = entry.Str("targets", formatTargets(event.Targets))
	}
	if event.Payload != nil {
		entry = entry.Interface("payload", event.Payload)
	}
	for k, v := range event.Extra {
		entry = entry.Interface(k, v)
	}
	entry.Msg(event.Category)
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func zerologLevel(sev logging.Severity) zerolog.Level {
	switch sev {
	case logging.SeverityDebug:
		return zerolog.DebugLevel
	case logging.SeverityInfo:
		return zerolog.InfoLevel
	case logging.SeverityWarn:
		return zerolog.WarnLevel
	case logging.SeverityError:
		return zerolog.ErrorLevel
	default:
		return zerolog.NoLevel
	}
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return string(ref.Kind) + ":" + ref.ID
}

func formatTargets(targets []logging.EntityRef) string {
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return strings.Join(parts, ",")
}

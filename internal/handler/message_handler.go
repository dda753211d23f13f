package handler

import (
	"context"
	"log/slog"

	"ctchen222/picross/internal/events"
	"ctchen222/picross/internal/puzzle"
	"ctchen222/picross/pkg/proto"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// HandleMessage dispatches one decoded message. It reports the close reason
// and true when the session has to end.
func (h *Handler) HandleMessage(ctx context.Context, msg proto.Message) (string, bool) {
	ctx, span := tracer.Start(ctx, "handler.HandleMessage", trace.WithAttributes(
		attribute.String("player.id", h.ID().String()),
		attribute.String("message.opcode", msg.Opcode.String()),
	))
	defer span.End()

	if h.messages != nil {
		h.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("opcode", msg.Opcode.String())))
	}

	if msg.Originator != h.ID().String() {
		slog.WarnContext(ctx, "Message originator does not match connection", "player.id", h.ID(), "originator", msg.Originator)
	}

	switch msg.Opcode {
	case proto.EndSession:
		h.handleEndSession(ctx)
		return ReasonEndSession, true
	case proto.PutConfiguration:
		h.handlePutConfiguration(ctx, msg)
	case proto.GetConfiguration:
		if err := h.handleGetConfiguration(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to deliver configuration")
			return ReasonDisconnected, true
		}
	case proto.PutResult:
		h.handlePutResult(ctx, msg)
	}
	return "", false
}

// handleEndSession sends the farewell. Cleanup happens in close.
func (h *Handler) handleEndSession(ctx context.Context) {
	line, err := proto.NewEndSession(h.ID().String()).Encode()
	if err == nil {
		err = h.writeLine(line)
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to send farewell", "player.id", h.ID(), "error", err)
		return
	}
	slog.InfoContext(ctx, "Player ended session", "player.id", h.ID())
}

func (h *Handler) handlePutConfiguration(ctx context.Context, msg proto.Message) {
	ctx, span := tracer.Start(ctx, "handler.handlePutConfiguration", trace.WithAttributes(
		attribute.String("player.id", h.ID().String()),
	))
	defer span.End()

	configuration := msg.Field(0)
	if err := puzzle.Validate(configuration); err != nil {
		slog.WarnContext(ctx, "Ignoring invalid configuration", "player.id", h.ID(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid configuration")
		return
	}

	h.registry.SetConfiguration(configuration)
	slog.InfoContext(ctx, "Configuration updated", "player.id", h.ID(), "configuration", configuration)

	h.publish(ctx, events.TypeConfigurationSet, events.ConfigurationSetPayload{
		PlayerID:      h.ID().String(),
		Configuration: configuration,
	})
}

func (h *Handler) handleGetConfiguration(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "handler.handleGetConfiguration", trace.WithAttributes(
		attribute.String("player.id", h.ID().String()),
	))
	defer span.End()

	configuration := h.registry.Configuration()
	span.SetAttributes(attribute.Bool("configuration.available", configuration != ""))

	line, err := proto.NewConfigurationDelivery(h.ID().String(), configuration).Encode()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode configuration", "player.id", h.ID(), "error", err)
		return err
	}
	if err := h.writeLine(line); err != nil {
		slog.WarnContext(ctx, "Failed to deliver configuration", "player.id", h.ID(), "error", err)
		return err
	}
	slog.DebugContext(ctx, "Configuration delivered", "player.id", h.ID(), "available", configuration != "")
	return nil
}

func (h *Handler) handlePutResult(ctx context.Context, msg proto.Message) {
	ctx, span := tracer.Start(ctx, "handler.handlePutResult", trace.WithAttributes(
		attribute.String("player.id", h.ID().String()),
	))
	defer span.End()

	result, err := proto.ParseResult(msg.Field(0))
	if err != nil {
		slog.WarnContext(ctx, "Ignoring invalid result", "player.id", h.ID(), "payload", msg.Field(0), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid result")
		return
	}

	if err := h.registry.RecordResult(h.ID(), result); err != nil {
		slog.ErrorContext(ctx, "Failed to record result", "player.id", h.ID(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to record result")
		return
	}
	slog.InfoContext(ctx, "Result recorded", "player.id", h.ID(), "name", result.Name, "time", result.Time, "score", result.Score)

	h.publish(ctx, events.TypeResultRecorded, events.ResultRecordedPayload{
		PlayerID: h.ID().String(),
		Name:     result.Name,
		Time:     result.Time,
		Score:    result.Score,
	})
}

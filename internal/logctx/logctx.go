// Package logctx enriches slog records with request-scoped attributes that
// the SDK layers attach to the context: the conversation being driven and the
// activity being processed. Hosts install Handler around their base slog
// handler once; every SDK log line below then carries the ambient ids.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(conversationDataKey{}).(*ConversationData); ok {
		r.AddAttrs(slog.Group("conv",
			slog.String("id", cd.ConversationID),
			slog.String("agent_id", cd.AgentID),
		))
	}

	if ad, ok := ctx.Value(activityDataKey{}).(*ActivityData); ok {
		r.AddAttrs(slog.Group("activity",
			slog.String("id", ad.ID),
			slog.String("type", ad.Type),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type conversationDataKey struct{}

type ConversationData struct {
	ConversationID string
	AgentID        string
}

func WithConversationData(ctx context.Context, data *ConversationData) context.Context {
	return context.WithValue(ctx, conversationDataKey{}, data)
}

type activityDataKey struct{}

type ActivityData struct {
	ID   string
	Type string
}

func WithActivityData(ctx context.Context, data *ActivityData) context.Context {
	return context.WithValue(ctx, activityDataKey{}, data)
}

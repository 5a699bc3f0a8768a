package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	AppIDKey         contextKey = "app_id"
	MessageIDKey     contextKey = "msg_id"
	PhoneNumberKey   contextKey = "phone_number"
	ProviderIDKey    contextKey = "provider_id"
	ProviderMsgIDKey contextKey = "provider_msg_id"
	SeqNumberKey     contextKey = "seq_num"
	WorkerIDKey      contextKey = "worker_id"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if appID, ok := ctx.Value(AppIDKey).(string); ok {
		r.AddAttrs(slog.String("app_id", appID))
	}
	if msgID, ok := ctx.Value(MessageIDKey).(string); ok {
		r.AddAttrs(slog.String("msg_id", msgID))
	}
	if phone, ok := ctx.Value(PhoneNumberKey).(string); ok {
		r.AddAttrs(slog.String("phone_number", phone))
	}
	if providerID, ok := ctx.Value(ProviderIDKey).(string); ok {
		r.AddAttrs(slog.String("provider_id", providerID))
	}
	if provMsgID, ok := ctx.Value(ProviderMsgIDKey).(string); ok {
		r.AddAttrs(slog.String("provider_msg_id", provMsgID))
	}
	if seq, ok := ctx.Value(SeqNumberKey).(int32); ok {
		r.AddAttrs(slog.Int("seq_num", int(seq)))
	}
	if workerID, ok := ctx.Value(WorkerIDKey).(string); ok {
		r.AddAttrs(slog.String("worker_id", workerID))
	}
	return h.Handler.Handle(ctx, r)
}

func ContextWithAppID(ctx context.Context, appID string) context.Context {
	return context.WithValue(ctx, AppIDKey, appID)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithPhoneNumber(ctx context.Context, phone string) context.Context {
	return context.WithValue(ctx, PhoneNumberKey, phone)
}

func ContextWithProviderID(ctx context.Context, providerID string) context.Context {
	return context.WithValue(ctx, ProviderIDKey, providerID)
}

func ContextWithProviderMsgID(ctx context.Context, providerMsgID string) context.Context {
	return context.WithValue(ctx, ProviderMsgIDKey, providerMsgID)
}

func ContextWithSeqNumber(ctx context.Context, seq int32) context.Context {
	return context.WithValue(ctx, SeqNumberKey, seq)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

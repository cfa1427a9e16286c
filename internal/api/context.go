package api

import (
	"context"

	"github.com/org/duressvault/pkg/models"
)

type contextKey string

const (
	ctxKeyIdentity  contextKey = "identity"
	ctxKeyRequestID contextKey = "request_id"
)

func withIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func identityFromCtx(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(ctxKeyIdentity).(*models.Identity)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

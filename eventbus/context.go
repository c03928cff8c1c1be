package eventbus

import (
	"context"

	"github.com/leeforge/workforce/logging"
)

type metadataKey struct{}

// ContextWithMetadata stores meta in ctx and mirrors its ids into the logging
// context keys, so logging.WithContext picks them up inside handlers.
func ContextWithMetadata(ctx context.Context, meta Metadata) context.Context {
	ctx = context.WithValue(ctx, metadataKey{}, meta)
	ctx = logging.SetEventID(ctx, meta.ID)
	if meta.CorrelationID != "" {
		ctx = logging.SetCorrelationID(ctx, meta.CorrelationID)
	}
	if meta.UserID != "" {
		ctx = logging.SetUserID(ctx, meta.UserID)
	}
	if meta.OrganizationID != "" {
		ctx = logging.SetOrganizationID(ctx, meta.OrganizationID)
	}
	return ctx
}

// MetadataFromContext returns the metadata of the event being handled.
func MetadataFromContext(ctx context.Context) (Metadata, bool) {
	meta, ok := ctx.Value(metadataKey{}).(Metadata)
	return meta, ok
}

package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRoutingKey is the standardized key for the bus routing key of a message.
	FieldRoutingKey = "routing_key"
	// FieldHarvestID is the standardized key for external harvest identifiers.
	FieldHarvestID = "harvest_id"
	// FieldCollectionID is the standardized key for collection identifiers.
	FieldCollectionID = "collection_id"
	// FieldWarcID is the standardized key for WARC identifiers.
	FieldWarcID = "warc_id"
	// FieldPath is the standardized key for filesystem paths.
	FieldPath = "path"
)

type contextKey int

const (
	routingKeyContextKey contextKey = iota
	harvestIDContextKey
	collectionIDContextKey
)

// WithRoutingKey stores the message routing key on the context.
func WithRoutingKey(ctx context.Context, routingKey string) context.Context {
	return context.WithValue(ctx, routingKeyContextKey, routingKey)
}

// WithHarvestID stores the external harvest id on the context.
func WithHarvestID(ctx context.Context, harvestID string) context.Context {
	return context.WithValue(ctx, harvestIDContextKey, harvestID)
}

// WithCollectionID stores the collection id on the context.
func WithCollectionID(ctx context.Context, collectionID string) context.Context {
	return context.WithValue(ctx, collectionIDContextKey, collectionID)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if value, ok := ctx.Value(routingKeyContextKey).(string); ok && value != "" {
		fields = append(fields, slog.String(FieldRoutingKey, value))
	}
	if value, ok := ctx.Value(harvestIDContextKey).(string); ok && value != "" {
		fields = append(fields, slog.String(FieldHarvestID, value))
	}
	if value, ok := ctx.Value(collectionIDContextKey).(string); ok && value != "" {
		fields = append(fields, slog.String(FieldCollectionID, value))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}

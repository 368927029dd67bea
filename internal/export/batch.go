package export

import "context"

// BatchIDHeader carries the flush batch identifier on HTTP deliveries.
const BatchIDHeader = "X-Batch-ID"

type batchIDKey struct{}

// WithBatchID returns a context carrying the flush batch identifier.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

// BatchID returns the flush batch identifier carried by ctx, or "".
func BatchID(ctx context.Context) string {
	id, _ := ctx.Value(batchIDKey{}).(string)

	return id
}

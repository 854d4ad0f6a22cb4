package ctxutil

import "context"

type traceDataKey struct{}

// TraceData identifies the request a unit of work belongs to.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := Default(ctx).Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/platform/qdrant"
)

var vectorTracer = otel.Tracer("pricebook/vector")

type instrumentedVectorStore struct {
	provider string
	inner    qdrant.VectorStore
	log      *logger.Logger
}

// instrumentVectorStore traces and logs every vector index call.
func instrumentVectorStore(log *logger.Logger, provider string, inner qdrant.VectorStore) qdrant.VectorStore {
	if inner == nil {
		return nil
	}
	return &instrumentedVectorStore{
		provider: provider,
		inner:    inner,
		log:      log.With("component", "VectorStore", "provider", provider),
	}
}

func (s *instrumentedVectorStore) Upsert(ctx context.Context, namespace string, vectors []qdrant.Vector) error {
	ctx, done := s.start(ctx, "upsert", namespace)
	err := s.inner.Upsert(ctx, namespace, vectors)
	done(err, attribute.Int("vectors", len(vectors)))
	return err
}

func (s *instrumentedVectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int) ([]qdrant.VectorMatch, error) {
	ctx, done := s.start(ctx, "query_matches", namespace)
	out, err := s.inner.QueryMatches(ctx, namespace, q, topK)
	done(err, attribute.Int("top_k", topK), attribute.Int("matches", len(out)))
	return out, err
}

func (s *instrumentedVectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	ctx, done := s.start(ctx, "delete_namespace", namespace)
	err := s.inner.DeleteNamespace(ctx, namespace)
	done(err)
	return err
}

func (s *instrumentedVectorStore) start(ctx context.Context, op, namespace string) (context.Context, func(error, ...attribute.KeyValue)) {
	began := time.Now()
	ctx, span := vectorTracer.Start(ctx, "vector."+op)
	span.SetAttributes(attribute.String("vector.provider", s.provider), attribute.String("vector.namespace", namespace))
	return ctx, func(err error, attrs ...attribute.KeyValue) {
		span.SetAttributes(attrs...)
		dur := time.Since(began)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.log.Warn("Vector store call failed", "op", op, "namespace", namespace, "duration_ms", dur.Milliseconds(), "error", err)
		} else {
			s.log.Debug("Vector store call", "op", op, "namespace", namespace, "duration_ms", dur.Milliseconds())
		}
		span.End()
	}
}

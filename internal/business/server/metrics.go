package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/config"
	"github.com/openkcm/anoncred-broker/internal/middleware/responsewriter"
)

type httpMeters struct {
	counter metric.Int64Counter
	hist    metric.Int64Histogram
}

// Meter returns the meter of the application, shared by the HTTP layer and
// the session metrics.
func Meter(cfg *config.Config) metric.Meter {
	return otel.Meter(
		"anoncred/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)
}

func initMeters(ctx context.Context, meter metric.Meter) (*httpMeters, error) {
	counter, err := meter.Int64Counter(
		"http.request_count",
		metric.WithDescription("Incoming request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return nil, oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating request_count meter")
	}

	hist, err := meter.Int64Histogram(
		"http.duration",
		metric.WithDescription("Incoming end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return nil, oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating duration meter")
	}

	return &httpMeters{counter: counter, hist: hist}, nil
}

// middleware wraps the handler of one operation.
type middleware func(operation string, h http.HandlerFunc) http.Handler

// newTraceMiddleware covers every operation with a span, a request id and the request metrics.
func newTraceMiddleware(cfg *config.Config, meters *httpMeters) middleware {
	return func(operation string, next http.HandlerFunc) http.Handler {
		traceAttrs := otlp.CreateAttributesFrom(cfg.Application, attribute.String(commoncfg.AttrOperation, operation))
		tracer := otel.Tracer(operation, trace.WithInstrumentationAttributes(traceAttrs...))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := slogctx.With(r.Context(),
				commoncfg.AttrRequestID, uuid.NewString(),
				commoncfg.AttrOperation, operation,
			)

			parentCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(parentCtx, operation+"-span", trace.WithAttributes(traceAttrs...))
			defer span.End()

			requestStartTime := time.Now()

			defer func() {
				elapsedTime := time.Since(requestStartTime)

				status := 0
				if rec, err := responsewriter.ResponseWriterFromContext(ctx); err == nil {
					status = rec.Status()
				}
				span.SetAttributes(attribute.Int("http.status_code", status))

				attrs := metric.WithAttributes(
					otlp.CreateAttributesFrom(cfg.Application,
						attribute.String("userAgent", r.UserAgent()),
						attribute.String(commoncfg.AttrOperation, operation),
						attribute.String("status", strconv.Itoa(status)),
					)...,
				)

				meters.counter.Add(ctx, 1, attrs)
				meters.hist.Record(ctx, elapsedTime.Milliseconds(), attrs)
			}()

			slogctx.Debug(ctx, fmt.Sprintf("Processing %s request", operation))
			next(w, r.WithContext(ctx))
			slogctx.Debug(ctx, fmt.Sprintf("Finished %s request", operation))
		})
	}
}

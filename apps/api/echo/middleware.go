package echoapi

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("studyboard-api")

func tracingMiddleware() echo.MiddlewareFunc {
	propagator := propagation.TraceContext{}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			c := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			c, span := tracer.Start(c, req.Method+" "+ctx.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.url", req.URL.String()),
					attribute.String("http.host", req.Host),
				),
			)
			defer span.End()

			ctx.SetRequest(req.WithContext(c))
			err := next(ctx)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

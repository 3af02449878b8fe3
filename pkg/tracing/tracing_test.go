package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkgerrors "github.com/tokmz/wsecho/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"grpc exporter", func(c *Config) { c.ExporterType = "otlpgrpc" }, false},
		{"empty service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad rate", func(c *Config) { c.SamplingRate = 1.5 }, true},
		{"bad exporter", func(c *Config) { c.ExporterType = "zipkin" }, true},
		{"queue smaller than batch", func(c *Config) { c.MaxQueueSize = 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, pkgerrors.Is(err, ErrInvalidConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTracerProviderNoop(t *testing.T) {
	tp, err := NewTracerProvider(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.Same(t, tp, otel.GetTracerProvider())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSamplerSelection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SamplingType = "never"
	assert.Equal(t, sdktrace.NeverSample().Description(), newSampler(cfg).Description())

	cfg.SamplingType = "always"
	assert.Equal(t, sdktrace.AlwaysSample().Description(), newSampler(cfg).Description())

	cfg.SamplingType = "ratio"
	cfg.SamplingRate = 0.25
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), newSampler(cfg).Description())

	cfg.SamplingType = ""
	assert.Equal(t, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description(), newSampler(cfg).Description())
}

func TestMiddlewareRecordsSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	defer otel.SetTracerProvider(prev)

	r := gin.New()
	r.Use(Middleware(WithFilter(func(c *gin.Context) bool { return c.Request.URL.Path != "/healthz" })))
	r.GET("/stats", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/stats", "/healthz"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /stats", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(span, nil)
	RecordError(span, errors.New("store down"))
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, codes.Error, recorder.Ended()[0].Status().Code)
	assert.Equal(t, "store down", recorder.Ended()[0].Status().Description)
}

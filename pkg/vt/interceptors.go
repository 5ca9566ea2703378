package vt

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Request is the view of an outgoing API request given to interceptors.
// Headers added here are sent with the request. Metadata carries values
// from request interceptors to response interceptors of the same exchange.
type Request struct {
	Method   string
	Path     string
	URL      string
	Headers  http.Header
	Body     []byte
	Metadata map[string]interface{}
}

func (r *Request) annotate(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = map[string]interface{}{}
	}

	r.Metadata[key] = value
}

// ResponseInfo describes a completed exchange to response interceptors. The
// body is not included: it belongs to the caller and may be streamed.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Error      error
}

// RequestInterceptor runs before a request is sent. An error aborts the
// request.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor runs once response headers arrive or the transport
// fails.
type ResponseInterceptor func(ctx context.Context, req *Request, resp *ResponseInfo) error

// InterceptorChain holds interceptors in registration order. The zero value
// is an empty chain.
type InterceptorChain struct {
	onRequest  []RequestInterceptor
	onResponse []ResponseInterceptor
}

// NewInterceptorChain returns an empty chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// AddRequestInterceptor appends interceptor to the request stage.
func (c *InterceptorChain) AddRequestInterceptor(interceptor RequestInterceptor) {
	c.onRequest = append(c.onRequest, interceptor)
}

// AddResponseInterceptor appends interceptor to the response stage.
func (c *InterceptorChain) AddResponseInterceptor(interceptor ResponseInterceptor) {
	c.onResponse = append(c.onResponse, interceptor)
}

// ExecuteRequestInterceptors runs the request stage, stopping at the first
// error.
func (c *InterceptorChain) ExecuteRequestInterceptors(ctx context.Context, req *Request) error {
	for i, intercept := range c.onRequest {
		if err := intercept(ctx, req); err != nil {
			return fmt.Errorf("request interceptor %d: %w", i, err)
		}
	}

	return nil
}

// ExecuteResponseInterceptors runs the response stage, stopping at the first
// error.
func (c *InterceptorChain) ExecuteResponseInterceptors(ctx context.Context, req *Request, resp *ResponseInfo) error {
	for i, intercept := range c.onResponse {
		if err := intercept(ctx, req, resp); err != nil {
			return fmt.Errorf("response interceptor %d: %w", i, err)
		}
	}

	return nil
}

func (c *InterceptorChain) empty() bool {
	return c == nil || len(c.onRequest)+len(c.onResponse) == 0
}

// LoggingInterceptor logs each request at debug level under a fresh
// request_id, which LoggingResponseInterceptor repeats.
func LoggingInterceptor(logger Logger) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		requestID := uuid.NewString()
		req.annotate("request_id", requestID)

		logger.Debug("API Request", map[string]interface{}{
			"method":     req.Method,
			"path":       req.Path,
			"request_id": requestID,
		})

		return nil
	}
}

// LoggingResponseInterceptor logs the outcome of each exchange; transport
// failures are logged as errors.
func LoggingResponseInterceptor(logger Logger) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *ResponseInfo) error {
		entry := map[string]interface{}{
			"method":      req.Method,
			"path":        req.Path,
			"status_code": resp.StatusCode,
		}

		if requestID, ok := req.Metadata["request_id"]; ok {
			entry["request_id"] = requestID
		}

		if resp.Error == nil {
			logger.Debug("API Response", entry)

			return nil
		}

		entry["error"] = resp.Error.Error()
		logger.Error("API Transport Error", entry)

		return nil
	}
}

// RateLimitInterceptor implements client-side rate limiting. VirusTotal
// public API keys are limited to 4 requests per minute, which is
// RateLimitInterceptor(rate.Every(15*time.Second), 1).
func RateLimitInterceptor(limit rate.Limit, burst int) RequestInterceptor {
	limiter := rate.NewLimiter(limit, burst)

	return func(ctx context.Context, req *Request) error {
		err := limiter.Wait(ctx)
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}

		return nil
	}
}

// HeaderInterceptor sets fixed headers on every request, replacing values
// already present.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	fixed := make(http.Header, len(headers))
	for name, value := range headers {
		fixed.Set(name, value)
	}

	return func(ctx context.Context, req *Request) error {
		if req.Headers == nil {
			req.Headers = http.Header{}
		}

		for name, values := range fixed {
			req.Headers[name] = append([]string(nil), values...)
		}

		return nil
	}
}

const startedKey = "started_at"

// MetricsCollector exports API traffic as Prometheus series.
type MetricsCollector struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetricsCollector registers the collector's series with reg, or with the
// default registry when reg is nil.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &MetricsCollector{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vt_api_requests_total",
				Help: "Total VirusTotal API requests by method and status code",
			},
			[]string{"method", "status"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vt_api_request_errors_total",
				Help: "Total VirusTotal API requests that failed or returned a non-200 status",
			},
			[]string{"method"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vt_api_request_duration_seconds",
				Help:    "Time until VirusTotal API response headers are received",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// MetricsRequestInterceptor stamps the request so MetricsResponseInterceptor
// can observe its latency.
func MetricsRequestInterceptor(collector *MetricsCollector) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		req.annotate(startedKey, time.Now())

		return nil
	}
}

// MetricsResponseInterceptor counts the exchange by method and status and
// observes its latency. Transport failures use the status label "error".
func MetricsResponseInterceptor(collector *MetricsCollector) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *ResponseInfo) error {
		status := "error"
		if resp.Error == nil {
			status = strconv.Itoa(resp.StatusCode)
		}

		collector.requests.WithLabelValues(req.Method, status).Inc()

		if resp.Error != nil || resp.StatusCode != http.StatusOK {
			collector.errors.WithLabelValues(req.Method).Inc()
		}

		if started, ok := req.Metadata[startedKey].(time.Time); ok {
			collector.latency.WithLabelValues(req.Method).Observe(time.Since(started).Seconds())
		}

		return nil
	}
}

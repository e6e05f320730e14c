package runner

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"stagehand/internal/behavior"
	"stagehand/internal/stats"
)

const (
	TCPDialTimeout       = 5 * time.Second
	TCPKeepAliveInterval = 30 * time.Second
	TLSHandshakeTimeout  = 5 * time.Second
	IdleConnTimeout      = 90 * time.Second

	// MaxBodyKeep is how much of a response body is handed back to callers.
	// The rest is read and discarded so the connection can be reused.
	MaxBodyKeep = 64 << 10
)

// Executor performs single HTTP calls against the target and records one
// outcome per call. It is shared by every virtual user.
type Executor struct {
	base    string
	headers http.Header
	timeout time.Duration
	client  *http.Client
	agg     *stats.Aggregator
	tracer  trace.Tracer
}

// NewExecutor builds the shared client. maxConns sizes the idle pool and is
// normally the schedule's peak target.
func NewExecutor(cfg Config, maxConns int, agg *stats.Aggregator) (*Executor, error) {
	cfg = cfg.withDefaults()
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: need an absolute http or https url", cfg.BaseURL)
	}
	if agg == nil {
		return nil, errors.New("executor needs an aggregator")
	}
	if maxConns < 1 {
		maxConns = 1
	}

	headers := http.Header{}
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	return &Executor{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		headers: headers,
		timeout: cfg.RequestTimeout,
		client:  buildHTTPClient(maxConns, cfg.InsecureSkipVerify),
		agg:     agg,
		tracer:  otel.Tracer("stagehand/runner"),
	}, nil
}

func buildHTTPClient(maxConns int, insecure bool) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     IdleConnTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   TCPDialTimeout,
			KeepAlive: TCPKeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}
	// no client timeout: each call carries its own deadline
	return &http.Client{Transport: transport}
}

// Close releases idle connections.
func (e *Executor) Close() {
	e.client.CloseIdleConnections()
}

// Do sends req and classifies the answer: 2xx is Success, 409 Conflict, a
// deadline or network timeout Timeout, anything else Failure.
func (e *Executor) Do(ctx context.Context, behaviorName string, req behavior.Request) behavior.Response {
	name := req.Name
	if name == "" {
		name = behaviorName
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := e.base + req.Path

	ctx, span := e.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(target),
			attribute.String("stagehand.behavior", behaviorName),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	resp, n, err := e.send(callCtx, method, target, req)
	latency := time.Since(started)

	resp.Status, resp.Err = classify(callCtx, resp.StatusCode, err)
	e.agg.Record(stats.Outcome{
		Behavior:   behaviorName,
		Name:       name,
		StartedAt:  started,
		Latency:    latency,
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Bytes:      n,
		Err:        resp.Err,
	})

	span.SetAttributes(attribute.String("stagehand.outcome", resp.Status.String()))
	if resp.StatusCode != 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	}
	if resp.Status.Failed() {
		span.SetStatus(codes.Error, resp.Err.Error())
	}
	return resp
}

func (e *Executor) send(ctx context.Context, method, target string, req behavior.Request) (behavior.Response, int64, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return behavior.Response{}, 0, err
	}
	for k, vs := range e.headers {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	e.agg.Inflight(1)
	defer e.agg.Inflight(-1)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return behavior.Response{}, 0, err
	}
	defer resp.Body.Close()

	out := behavior.Response{StatusCode: resp.StatusCode}
	kept, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyKeep))
	n := int64(len(kept))
	if err == nil {
		var rest int64
		rest, err = io.Copy(io.Discard, resp.Body)
		n += rest
	}
	out.Body = kept
	return out, n, err
}

func classify(ctx context.Context, code int, err error) (stats.Status, error) {
	if err != nil {
		if isTimeout(ctx, err) {
			return stats.Timeout, fmt.Errorf("timeout: %w", err)
		}
		return stats.Failure, err
	}
	switch {
	case code >= 200 && code < 300:
		return stats.Success, nil
	case code == http.StatusConflict:
		return stats.Conflict, nil
	}
	return stats.Failure, fmt.Errorf("unexpected status %d", code)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Package letta is a small client for the Letta agent platform REST API.
//
// It covers the calls needed to provision a voice agent (tool upsert, agent
// CRUD, sleep-time group changes) and the streaming voice chat endpoint.
package letta

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the hosted Letta API.
	DefaultBaseURL = "https://api.letta.com"

	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "letta-voice/1"
	tracerName       = "github.com/vango-go/letta-voice/pkg/letta"
)

// Client talks to the Letta REST API.
type Client struct {
	http    *resty.Client
	stream  *resty.Client
	baseURL string
	tracer  trace.Tracer

	Agents *AgentsService
	Groups *GroupsService
	Tools  *ToolsService
	Voice  *VoiceService
}

// Option configures the client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
	timeout time.Duration
	tracer  trace.Tracer
}

// WithBaseURL points the client at a self-hosted server or a test server.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		if strings.TrimSpace(url) == "" {
			return
		}
		o.baseURL = strings.TrimRight(url, "/")
	}
}

// WithTimeout bounds each REST call. For streaming voice replies it only
// bounds the wait for response headers; the body runs until ctx ends.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTracer sets the OpenTelemetry tracer for the client. The default is
// the global tracer provider's.
func WithTracer(t trace.Tracer) Option {
	return func(o *clientOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewClient creates a Letta client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	o := clientOptions{
		baseURL: DefaultBaseURL,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = o.timeout

	c := &Client{
		http:    newRestyClient(&http.Client{Transport: transport, Timeout: o.timeout}, o.baseURL, apiKey),
		stream:  newRestyClient(&http.Client{Transport: transport}, o.baseURL, apiKey),
		baseURL: o.baseURL,
		tracer:  o.tracer,
	}
	c.Agents = &AgentsService{client: c}
	c.Groups = &GroupsService{client: c}
	c.Tools = &ToolsService{client: c}
	c.Voice = &VoiceService{client: c}
	return c
}

func newRestyClient(hc *http.Client, baseURL, apiKey string) *resty.Client {
	rc := resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", defaultUserAgent)
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}
	return rc
}

// BaseURL returns the API root the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type request struct {
	method     string
	path       string
	pathParams map[string]string
	body       any
	out        any
}

func (c *Client) do(ctx context.Context, r request) (err error) {
	path := expandPath(r.path, r.pathParams)
	ctx, span := c.startSpan(ctx, r.method, r.path)
	defer func() { endSpan(span, err) }()

	req := c.http.R().SetContext(ctx)
	if len(r.pathParams) > 0 {
		req.SetPathParams(r.pathParams)
	}
	if r.body != nil {
		req.SetBody(r.body)
	}
	if r.out != nil {
		req.SetResult(r.out)
	}

	resp, err := req.Execute(r.method, r.path)
	if err != nil {
		return fmt.Errorf("letta %s %s: %w", r.method, path, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode()))
	if resp.IsError() {
		return newAPIError(r.method, path, resp.StatusCode(), resp.Body())
	}
	return nil
}

// startSpan names spans by route template so ids stay out of span names.
func (c *Client) startSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "letta "+method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", route),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func expandPath(path string, params map[string]string) string {
	for k, v := range params {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	return path
}

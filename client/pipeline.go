package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// SessionSource is read once per outgoing request
type SessionSource interface {
	Current() *sessions.Session
}

// RefreshWaiter blocks until no refresh is in flight or ctx is done
type RefreshWaiter interface {
	Wait(ctx context.Context) error
}

type anonymousKey struct{}

// WithoutAuth marks ctx so the pipeline never attaches a bearer header to
// requests carrying it. Used for sign-in, registration and refresh calls.
func WithoutAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

func isAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey{}).(bool)
	return v
}

// AddAuthHeader returns a copy of req carrying "Authorization: Bearer <token>"
// when session is Authenticated. A header already set by the caller wins. req is
// never modified.
func AddAuthHeader(req *http.Request, session *sessions.Session) *http.Request {
	out := req.Clone(req.Context())
	if out.Header.Get("Authorization") != "" || isAnonymous(out.Context()) || !session.IsAuthenticated() {
		return out
	}
	(&oauth2.Token{AccessToken: session.AccessToken, TokenType: "Bearer"}).SetAuthHeader(out)
	return out
}

// Pipeline sends every backend request. It reads the live session at the moment
// each request is sent and records which endpoints were called.
type Pipeline struct {
	baseURL     *url.URL
	source      SessionSource
	waiter      RefreshWaiter
	refreshWait time.Duration
	usage       *EndpointUsage
	httpClient  *http.Client
}

type PipelineOption func(*Pipeline)

// WithTransport replaces the underlying round tripper (tests use httptest servers' transports)
func WithTransport(rt http.RoundTripper) PipelineOption {
	return func(p *Pipeline) {
		p.httpClient.Transport = &pipelineTransport{pipeline: p, base: rt}
	}
}

func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.httpClient.Timeout = d
	}
}

// WithRefreshWaiter makes requests issued while a refresh is in flight wait up
// to maxWait for it to complete before reading the session.
func WithRefreshWaiter(w RefreshWaiter, maxWait time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.waiter = w
		p.refreshWait = maxWait
	}
}

func NewPipeline(baseURL string, source SessionSource, opts ...PipelineOption) (*Pipeline, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "client.NewPipeline parse base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "client.NewPipeline base url %q must be absolute", baseURL)
	}

	p := &Pipeline{
		baseURL:    u,
		source:     source,
		usage:      NewEndpointUsage(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	p.httpClient.Transport = &pipelineTransport{pipeline: p, base: http.DefaultTransport}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SetRefreshWaiter wires the waiter after construction, the scheduler needs
// the API (and so the pipeline) before it exists.
func (p *Pipeline) SetRefreshWaiter(w RefreshWaiter, maxWait time.Duration) {
	WithRefreshWaiter(w, maxWait)(p)
}

func (p *Pipeline) Usage() *EndpointUsage {
	return p.usage
}

// HTTPClient returns a client whose requests run through the pipeline
func (p *Pipeline) HTTPClient() *http.Client {
	return p.httpClient
}

// URL resolves path against the backend base URL
func (p *Pipeline) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return p.baseURL.String() + path
	}
	u := *p.baseURL
	u.Path = strings.TrimRight(p.baseURL.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String()
}

// NewRequest builds a request for path relative to the backend base URL
func (p *Pipeline) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.URL(path), body)
	if err != nil {
		return nil, errors.Wrapf(err, "Pipeline.NewRequest %s %s", method, path)
	}
	return req, nil
}

// Send performs req. Transport failures are reported as ErrNetwork.
func (p *Pipeline) Send(req *http.Request) (*http.Response, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.Join(errors.ErrNetwork, err), "Pipeline.Send %s %s", req.Method, req.URL.Path)
	}
	return resp, nil
}

// prepare runs just before a request goes on the wire. Only requests to the
// backend host ever carry the bearer token.
func (p *Pipeline) prepare(req *http.Request) *http.Request {
	var session *sessions.Session
	if p.source != nil && !isAnonymous(req.Context()) && req.URL.Host == p.baseURL.Host {
		session = p.source.Current()
		if session != nil && session.Status == sessions.StatusRefreshing && p.waiter != nil {
			p.awaitRefresh(req.Context())
			session = p.source.Current()
		}
	}

	out := AddAuthHeader(req, session)
	p.usage.Record(out)
	return out
}

func (p *Pipeline) awaitRefresh(ctx context.Context) {
	waitCtx := ctx
	if p.refreshWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.refreshWait)
		defer cancel()
	}
	if err := p.waiter.Wait(waitCtx); err != nil {
		log.Debug().Err(err).Msg("client: refresh still in flight, sending without waiting further")
	}
}

// pipelineTransport hooks the pipeline into http.Client so redirects and
// retries issued by the client also get a fresh header.
type pipelineTransport struct {
	pipeline *Pipeline
	base     http.RoundTripper
}

func (t *pipelineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(t.pipeline.prepare(req))
}

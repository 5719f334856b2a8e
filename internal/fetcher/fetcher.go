// Package fetcher implements the single-attempt HTTP fetcher. It performs
// exactly one network call per invocation and classifies failures into the
// typed FetchError kinds; retries, caching, and pacing belong to the
// orchestrator and its collaborators.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/harvest"
)

// Config captures the HTTP client knobs.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.oyez.org".
	BaseURL   string
	UserAgent string
	// Timeout is the hard per-call deadline for document fetches; expiry
	// surfaces as a timeout FetchError distinct from generic network
	// failures. Streams bound only the connect and header wait with it.
	Timeout time.Duration
	// PageSize is requested from the listing endpoint via per_page.
	PageSize int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.UserAgent == "" {
		c.UserAgent = "scotus-harvester/1.0"
	}
}

// HTTPFetcher fetches JSON documents and opens binary streams against the
// remote API. It implements harvest.Fetcher and harvest.Streamer.
type HTTPFetcher struct {
	cfg          Config
	client       *http.Client
	streamClient *http.Client
	clock        harvest.Clock
	logger       *zap.Logger
}

// New constructs an HTTPFetcher. A nil client gets a default with the
// configured timeout.
func New(cfg Config, client *http.Client, clock harvest.Clock, logger *zap.Logger) (*HTTPFetcher, error) {
	cfg.applyDefaults()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// The stream client carries no overall deadline: an audio payload can
	// legitimately take longer than any fixed timeout, so only the wait for
	// response headers is bounded and body reads answer to the caller's ctx.
	streamClient := &http.Client{
		Transport:     client.Transport,
		CheckRedirect: client.CheckRedirect,
		Jar:           client.Jar,
	}
	if streamClient.Transport == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.Timeout
		streamClient.Transport = transport
	}

	return &HTTPFetcher{
		cfg:          cfg,
		client:       client,
		streamClient: streamClient,
		clock:        clock,
		logger:       logger,
	}, nil
}

// URLFor derives the request URL for a key. Listing and case keys resolve
// against the base URL; argument and audio keys carry their URL verbatim.
func (f *HTTPFetcher) URLFor(key harvest.WorkKey) (string, error) {
	base := strings.TrimRight(f.cfg.BaseURL, "/")
	switch key.Kind {
	case harvest.KindCaseList:
		q := url.Values{}
		q.Set("filter", "term:"+key.Term)
		q.Set("page", strconv.Itoa(key.Page))
		q.Set("per_page", strconv.Itoa(f.cfg.PageSize))
		return base + "/cases?" + q.Encode(), nil
	case harvest.KindCase:
		return base + "/cases/" + key.Term + "/" + key.Docket, nil
	case harvest.KindArgument, harvest.KindAudio:
		if key.URL == "" {
			return "", fmt.Errorf("key %s has no url", key)
		}
		return key.URL, nil
	default:
		return "", fmt.Errorf("unknown key kind %q", key.Kind)
	}
}

// Fetch performs one attempt for the key and returns the raw document.
// Failures come back as *harvest.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, key harvest.WorkKey) (harvest.RawDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	resp, err := f.send(ctx, f.client, key, "application/json")
	if err != nil {
		return harvest.RawDocument{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return harvest.RawDocument{}, &harvest.FetchError{Kind: harvest.FetchHTTP, Key: key, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return harvest.RawDocument{}, f.classify(key, err)
	}
	if len(body) == 0 {
		return harvest.RawDocument{}, &harvest.FetchError{
			Kind: harvest.FetchMalformed, Key: key, Err: errors.New("empty body"),
		}
	}

	return harvest.RawDocument{
		Key:         key,
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   f.clock.Now(),
	}, nil
}

// Open starts a binary download and hands the body to the caller for
// incremental consumption. The caller owns the stream. The configured timeout
// bounds only the wait for headers; the body is tied to ctx alone, so a slow
// but healthy transfer is never cut off for total elapsed time.
func (f *HTTPFetcher) Open(ctx context.Context, key harvest.WorkKey) (*harvest.RawStream, error) {
	resp, err := f.send(ctx, f.streamClient, key, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &harvest.FetchError{Kind: harvest.FetchHTTP, Key: key, Status: resp.StatusCode}
	}
	return &harvest.RawStream{
		Key:         key,
		Body:        resp.Body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (f *HTTPFetcher) send(ctx context.Context, client *http.Client, key harvest.WorkKey, accept string) (*http.Response, error) {
	target, err := f.URLFor(key)
	if err != nil {
		return nil, &harvest.FetchError{Kind: harvest.FetchMalformed, Key: key, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &harvest.FetchError{Kind: harvest.FetchMalformed, Key: key, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	f.logger.Debug("fetching", zap.String("key", key.String()), zap.String("url", target))
	resp, err := client.Do(req)
	if err != nil {
		return nil, f.classify(key, err)
	}
	return resp, nil
}

func (f *HTTPFetcher) classify(key harvest.WorkKey, err error) *harvest.FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &harvest.FetchError{Kind: harvest.FetchTimeout, Key: key, Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return &harvest.FetchError{Kind: harvest.FetchTimeout, Key: key, Err: err}
	}
	return &harvest.FetchError{Kind: harvest.FetchNetwork, Key: key, Err: err}
}

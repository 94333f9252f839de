package utils

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

type HTTPClientConfig struct {
	Timeout       time.Duration
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string
	BearerToken   string // sent as Authorization via an oauth2 static token source
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type PwrHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewPwrHTTPClient(cfg HTTPClientConfig) *PwrHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := &http.Transport{
		IdleConnTimeout:       cfg.KATimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
		MaxConnsPerHost:       0,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	var rt http.RoundTripper = transport
	if cfg.BearerToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	return &PwrHTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: rt,
		},
		config: cfg,
	}
}

// WrapHTTPClient adopts an existing client (tests hand in httptest clients).
func WrapHTTPClient(c *http.Client, cfg HTTPClientConfig) *PwrHTTPClient {
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return &PwrHTTPClient{client: c, config: cfg}
}

// WithTimeout returns a copy sharing the transport but with a different
// overall timeout. Zero disables it; the transport's header timeout still applies.
func (d *PwrHTTPClient) WithTimeout(timeout time.Duration) *PwrHTTPClient {
	inner := *d.client
	inner.Timeout = timeout
	cfg := d.config
	cfg.Timeout = timeout
	return &PwrHTTPClient{client: &inner, config: cfg}
}

func (d *PwrHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}
	return d.client.Do(req)
}

// Get issues a GET bound to ctx.
func (d *PwrHTTPClient) Get(ctx context.Context, link string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, &PermanentNetworkError{URL: link, Err: err}
	}
	return d.Do(req)
}

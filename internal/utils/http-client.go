package utils

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/publicsuffix"
)

type HTTPClientConfig struct {
	Timeout        time.Duration // dial and response-header timeout, never the body transfer
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	Cookies        map[string]string
	HighThreadMode bool // advanced socket options for high concurrency
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GdvlHTTPClient owns its transport. Two clients never share a connection pool.
type GdvlHTTPClient struct {
	client *http.Client
	config HTTPClientConfig

	mu     sync.Mutex
	seeded map[string]bool
}

func NewGdvlHTTPClient(cfg HTTPClientConfig) *GdvlHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	if cfg.HighThreadMode {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setSocketOptions(fd)
			})
		}
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		IdleConnTimeout:       cfg.KATimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   4,
		DisableCompression:    true,
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
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	client := &http.Client{Transport: transport}
	if len(cfg.Cookies) > 0 {
		// error is always nil for a non-nil options struct
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		client.Jar = jar
	}
	return &GdvlHTTPClient{
		client: client,
		config: cfg,
		seeded: make(map[string]bool),
	}
}

func (d *GdvlHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}
	d.seedCookies(req.URL)
	return d.client.Do(req)
}

// CloseIdleConnections releases the pooled connection held by the transport.
func (d *GdvlHTTPClient) CloseIdleConnections() {
	d.client.CloseIdleConnections()
}

func (d *GdvlHTTPClient) seedCookies(u *url.URL) {
	if d.client.Jar == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seeded[u.Host] {
		return
	}
	d.seeded[u.Host] = true
	cookies := make([]*http.Cookie, 0, len(d.config.Cookies))
	for name, value := range d.config.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	d.client.Jar.SetCookies(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, cookies)
}

// 包 fetch 封装 HTTP 客户端（代理/超时/重试），用于抓取订阅源与调用表格 API。
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

const defaultUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Client 为带重试的 HTTP 客户端。
type Client struct {
	http    *http.Client
	retry   int
	backoff time.Duration
}

// Options 为客户端构造参数。
type Options struct {
	ProxyHTTP  string
	ProxyHTTPS string
	Timeout    time.Duration
	Retry      int
	// Backoff 为线性回退的步长，默认 300ms
	Backoff time.Duration
}

// New 创建客户端，支持 http/https 代理与基础超时配置。
func New(opts Options) (*Client, error) {
	var httpsProxy, httpProxy *url.URL
	if opts.ProxyHTTPS != "" {
		u, err := url.Parse(opts.ProxyHTTPS)
		if err != nil {
			return nil, fmt.Errorf("parse https proxy: %w", err)
		}
		httpsProxy = u
	}
	if opts.ProxyHTTP != "" {
		u, err := url.Parse(opts.ProxyHTTP)
		if err != nil {
			return nil, fmt.Errorf("parse http proxy: %w", err)
		}
		httpProxy = u
	}
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if req.URL.Scheme == "https" && httpsProxy != nil {
				return httpsProxy, nil
			}
			if req.URL.Scheme == "http" && httpProxy != nil {
				return httpProxy, nil
			}
			return http.ProxyFromEnvironment(req)
		},
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 300 * time.Millisecond
	}
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: opts.Timeout},
		retry:   opts.Retry,
		backoff: opts.Backoff,
	}, nil
}

// Get 请求目标地址，仅 2xx 视为成功；失败按线性回退重试。
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	resp, err := c.Do(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("http status: %s", resp.Status)
	}
	return resp, nil
}

// Do 发送请求。网络错误、5xx 与 429 会重试；其余状态码原样返回给调用方处理。
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, header http.Header) (*http.Response, error) {
	var lastErr error
	attempts := c.retry + 1
	for i := 0; i < attempts; i++ {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, rawURL, rd)
		if reqErr != nil {
			return nil, fmt.Errorf("new request: %w", reqErr)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		// 支持环境变量覆盖 UA（FETCH_UA）
		if req.Header.Get("User-Agent") == "" {
			ua := os.Getenv("FETCH_UA")
			if ua == "" {
				ua = defaultUA
			}
			req.Header.Set("User-Agent", ua)
		}
		resp, err := c.http.Do(req)
		if err == nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("http status: %s", resp.Status)
			resp.Body.Close()
		} else {
			lastErr = err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * c.backoff):
		}
	}
	return nil, lastErr
}

// JSON 以 JSON 发送 payload（可为 nil）并把响应体解码到 out，返回 HTTP 状态码。
// 非 2xx 时仍尝试解码，便于调用方读取业务错误码。
func (c *Client) JSON(ctx context.Context, method, rawURL string, header http.Header, payload, out any) (int, error) {
	var body []byte
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode payload: %w", err)
		}
		body = b
		h.Set("Content-Type", "application/json; charset=utf-8")
	}
	resp, err := c.Do(ctx, method, rawURL, body, h)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", rawURL, err)
		}
	}
	return resp.StatusCode, nil
}

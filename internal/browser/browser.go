// 包 browser 基于 chromedp 实现 page.Page：一个浏览器进程，每次 Open 新建一个标签页。
// 启动时从 Playwright 格式的 auth_state.json 导入 Cookie 作为登录态。
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"fetch-process/internal/logx"
	"fetch-process/internal/page"
)

// ErrClosed 表示浏览器或标签页已关闭。
var ErrClosed = errors.New("browser closed")

const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// Options 为浏览器启动参数。
type Options struct {
	Headless  bool
	UserAgent string
	ExecPath  string
	// Proxy 形如 http://127.0.0.1:7890，空则直连
	Proxy string
	// AuthState 为 Playwright storage_state 文件，缺失时以未登录状态启动
	AuthState  string
	NavTimeout time.Duration
	NavRetry   int
}

func (o *Options) normalize() {
	if o.NavTimeout <= 0 {
		o.NavTimeout = 30 * time.Second
	}
	if o.NavRetry < 0 {
		o.NavRetry = 0
	}
}

// Browser 持有浏览器进程，可并发 Open。
type Browser struct {
	opts        Options
	allocCancel context.CancelFunc
	root        context.Context
	rootCancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Launch 启动浏览器并导入登录态。
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	opts.normalize()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(opts)...)
	root, rootCancel := chromedp.NewContext(allocCtx)
	b := &Browser{opts: opts, allocCancel: allocCancel, root: root, rootCancel: rootCancel}

	if err := chromedp.Run(root); err != nil {
		b.Close()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	cookies, err := LoadAuthState(opts.AuthState)
	if err != nil {
		logx.Warnf("读取登录态失败，以未登录状态继续：%v", err)
	}
	if len(cookies) > 0 {
		if err := chromedp.Run(root, network.SetCookies(cookies)); err != nil {
			b.Close()
			return nil, fmt.Errorf("set cookies: %w", err)
		}
		logx.Infof("已导入 %d 个 Cookie（%s）", len(cookies), opts.AuthState)
	}
	return b, nil
}

func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 900),
	)
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(o.Proxy))
	}
	return opts
}

// Open 新建标签页。
func (b *Browser) Open(ctx context.Context) (page.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	tab, cancel := chromedp.NewContext(b.root)
	// 首次 Run 创建标签页，目标的事件循环绑定在传入的 ctx 上，不能用可取消的派生 ctx
	if err := chromedp.Run(tab); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	t := &Tab{ctx: tab, cancel: cancel, opts: b.opts}
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := cdppage.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(c)
		return err
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return t, nil
}

// Close 关闭浏览器进程，可重复调用。
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.rootCancel()
	b.allocCancel()
}

// Tab 为一个标签页，只能被一个调用方持有。
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	closeOnce sync.Once
}

// run 在标签页上执行动作，同时响应调用方 ctx 的取消。
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	rctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate 按 NavTimeout 导航，失败时最多重试 NavRetry 次。
func (t *Tab) Navigate(ctx context.Context, url string) error {
	var last error
	for attempt := 0; attempt <= t.opts.NavRetry; attempt++ {
		if attempt > 0 {
			logx.Debugf("导航 %s 第 %d 次重试：%v", url, attempt, last)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		nctx, cancel := context.WithTimeout(ctx, t.opts.NavTimeout)
		last = t.run(nctx, chromedp.Navigate(url))
		cancel()
		if last == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(last, ErrClosed) {
			return last
		}
	}
	return fmt.Errorf("navigate %s: %w", url, last)
}

func (t *Tab) URL(ctx context.Context) (string, error) {
	var u string
	if err := t.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Evaluate 以 "(src)(arg)" 形式调用脚本，支持返回 Promise。
func (t *Tab) Evaluate(ctx context.Context, s page.Script, arg, out any) error {
	expr, err := Expression(s, arg)
	if err != nil {
		return err
	}
	var raw []byte
	err = t.run(ctx, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", s.Name, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", s.Name, err)
	}
	return nil
}

// Expression 把脚本与 JSON 参数拼成可直接求值的表达式。
func Expression(s page.Script, arg any) (string, error) {
	src := strings.TrimSpace(s.Source)
	if src == "" {
		return "", fmt.Errorf("script %s: empty source", s.Name)
	}
	if arg == nil {
		return "(" + src + ")()", nil
	}
	b, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("encode %s arg: %w", s.Name, err)
	}
	return "(" + src + ")(" + string(b) + ")", nil
}

func (t *Tab) WaitFor(ctx context.Context, s page.Script, arg any, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		var ok bool
		err := t.Evaluate(wctx, s, arg, &ok)
		if err == nil && ok {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait %s: %w", s.Name, context.DeadlineExceeded)
		case <-tick.C:
		}
	}
}

func (t *Tab) ScrollBy(ctx context.Context, dy float64) error {
	return t.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %f)", dy), nil))
}

func (t *Tab) HTML(ctx context.Context) (string, error) {
	var s string
	if err := t.run(ctx, chromedp.OuterHTML("html", &s, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return s, nil
}

// Close 关闭标签页，可重复调用。
func (t *Tab) Close() error {
	t.closeOnce.Do(t.cancel)
	return nil
}

// storageState 为 Playwright storage_state 的 Cookie 部分。
type storageState struct {
	Cookies []struct {
		Name     string  `json:"name"`
		Value    string  `json:"value"`
		Domain   string  `json:"domain"`
		Path     string  `json:"path"`
		Expires  float64 `json:"expires"`
		HTTPOnly bool    `json:"httpOnly"`
		Secure   bool    `json:"secure"`
		SameSite string  `json:"sameSite"`
	} `json:"cookies"`
}

// LoadAuthState 读取 Playwright 的 storage_state 文件并转换为 CDP Cookie。
// 路径为空或文件不存在时返回 nil。
func LoadAuthState(path string) ([]*network.CookieParam, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read auth state: %w", err)
	}
	var st storageState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse auth state %s: %w", path, err)
	}
	out := make([]*network.CookieParam, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		// -1 为会话 Cookie
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = network.CookieSameSiteStrict
		case "lax":
			p.SameSite = network.CookieSameSiteLax
		case "none":
			p.SameSite = network.CookieSameSiteNone
		}
		out = append(out, p)
	}
	return out, nil
}

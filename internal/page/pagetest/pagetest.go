// 包 pagetest 提供按脚本名应答的页面替身，用于列表收集与详情解析的测试。
package pagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fetch-process/internal/page"
)

// Handler 处理一次脚本调用，返回值会经过 JSON 往返后写入 out。
type Handler func(arg any) (any, error)

// Page 为脚本化的页面替身。
type Page struct {
	mu        sync.Mutex
	url       string
	html      string
	handlers  map[string]Handler
	navigated []string
	scrolled  []float64
	closed    bool

	// OnNavigate 可选：返回错误模拟导航失败，或修改 URL/HTML 模拟跳转。
	OnNavigate func(p *Page, url string) error
	onClose    func()
}

// New 创建替身。
func New() *Page { return &Page{handlers: make(map[string]Handler)} }

// Handle 注册脚本应答。
func (p *Page) Handle(name string, h Handler) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
	return p
}

// SetHTML 设置 HTML 返回值。
func (p *Page) SetHTML(html string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
	return p
}

// SetURL 设置当前地址。
func (p *Page) SetURL(u string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
	return p
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	p.url = url
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		return hook(p, url)
	}
	return nil
}

func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Evaluate(ctx context.Context, s page.Script, arg, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	h, ok := p.handlers[s.Name]
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("page closed")
	}
	if !ok {
		return fmt.Errorf("pagetest: no handler for script %q", s.Name)
	}
	v, err := h(arg)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (p *Page) WaitFor(ctx context.Context, s page.Script, arg any, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		if err := p.Evaluate(ctx, s, arg, &ok); err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wait %s: %w", s.Name, context.DeadlineExceeded)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (p *Page) ScrollBy(_ context.Context, dy float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolled = append(p.scrolled, dy)
	return nil
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cb := p.onClose
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

// Closed 返回是否已关闭。
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Navigated 返回导航过的地址。
func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// Scrolled 返回 ScrollBy 的参数序列。
func (p *Page) Scrolled() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.scrolled...)
}

// Opener 每次 Open 调用 Factory 创建新页面，并统计同时打开的最大数量。
type Opener struct {
	Factory func() *Page
	// OpenErr 非空时 Open 直接失败
	OpenErr error

	mu      sync.Mutex
	active  int
	maxSeen int
	opened  int
	pages   []*Page
}

func (o *Opener) Open(ctx context.Context) (page.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	p := New()
	if o.Factory != nil {
		p = o.Factory()
	}
	o.mu.Lock()
	o.active++
	o.opened++
	if o.active > o.maxSeen {
		o.maxSeen = o.active
	}
	o.pages = append(o.pages, p)
	o.mu.Unlock()
	p.mu.Lock()
	p.onClose = func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
	}
	p.mu.Unlock()
	return p, nil
}

// Active 返回当前未关闭的页面数。
func (o *Opener) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// MaxActive 返回同时打开页面数的峰值。
func (o *Opener) MaxActive() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxSeen
}

// Opened 返回累计打开次数。
func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

// 包 page 定义浏览器页面能力：导航、页面内求值、等待、滚动与关闭。
// 同步流程只依赖此接口，具体实现见 internal/browser（chromedp）。
package page

import (
	"context"
	"time"
)

// Script 为一段页面内执行的 JS 函数表达式，形如 "(arg) => {...}"。
// Name 用于日志与测试替身识别。
type Script struct {
	Name   string
	Source string
}

// Page 为一个独立的执行上下文（标签页）。同一时刻只被一个调用方持有。
type Page interface {
	Navigate(ctx context.Context, url string) error
	// URL 返回当前地址（可能因跳转与 Navigate 的参数不同）。
	URL(ctx context.Context) (string, error)
	// Evaluate 以 arg（JSON 可序列化，可为 nil）调用脚本，并把 JSON 结果解码到 out（可为 nil）。
	Evaluate(ctx context.Context, s Script, arg, out any) error
	// WaitFor 轮询脚本直到返回 true 或超时。
	WaitFor(ctx context.Context, s Script, arg any, timeout time.Duration) error
	ScrollBy(ctx context.Context, dy float64) error
	// HTML 返回当前文档的 outerHTML。
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Opener 创建新的执行上下文。
type Opener interface {
	Open(ctx context.Context) (Page, error)
}

// OpenerFunc 允许以函数实现 Opener。
type OpenerFunc func(ctx context.Context) (Page, error)

func (f OpenerFunc) Open(ctx context.Context) (Page, error) { return f(ctx) }

// 包 logx 封装 slog：
// - 级别/格式/语言/颜色由配置决定
// - pretty 格式输出中文或英文等级标签，可选 ANSI 颜色
// - Debugf/Infof/Warnf/Errorf 供全局使用，With 生成带上下文属性（run/target/platform）的子日志器
package logx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// levelOff 高于任何实际等级，用于静默。
const levelOff slog.Level = 100

// Init 初始化全局日志器，输出到标准输出。
func Init(level, format, locale, colorMode string) {
	slog.SetDefault(New(os.Stdout, level, format, locale, colorMode))
}

// New 按配置构造日志器，format 取 pretty（默认）/json/text。
func New(w io.Writer, level, format, locale, colorMode string) *slog.Logger {
	lv := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = NewPrettyHandler(w, lv, locale, colorMode)
	}
	return slog.New(h)
}

// ParseLevel 解析级别字符串，未知值按 info 处理。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none", "silent", "off":
		return levelOff
	default:
		return slog.LevelInfo
	}
}

func Debugf(format string, v ...any) { slog.Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { slog.Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { slog.Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { slog.Error(fmt.Sprintf(format, v...)) }

// With 返回附带属性的子日志器，例如 With("run", id, "target", url)。
func With(args ...any) *slog.Logger { return slog.Default().With(args...) }

// PrettyHandler 面向人读的单行输出：时间 等级 消息 k=v...
type PrettyHandler struct {
	w      io.Writer
	level  slog.Leveler
	zh     bool
	color  bool
	mu     *sync.Mutex
	prefix string
	attrs  []slog.Attr
}

// NewPrettyHandler 创建 PrettyHandler；locale 以 zh 开头时使用中文标签（默认）。
func NewPrettyHandler(w io.Writer, lv slog.Leveler, locale, colorMode string) *PrettyHandler {
	if w == nil {
		w = os.Stdout
	}
	if lv == nil {
		lv = slog.LevelInfo
	}
	loc := strings.ToLower(strings.TrimSpace(locale))
	return &PrettyHandler{
		w:     w,
		level: lv,
		zh:    loc == "" || strings.HasPrefix(loc, "zh"),
		color: shouldColor(w, colorMode),
		mu:    &sync.Mutex{},
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	min := h.level.Level()
	return min < levelOff && l >= min
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.Format("2006-01-02 15:04:05"))
	buf.WriteByte(' ')
	lbl := h.label(r.Level)
	if h.color {
		lbl = colorize(lbl, r.Level)
	}
	buf.WriteString(lbl)
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

// writeAttr 展平属性：分组键以点连接，含空白的值加引号。
func writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, g := range a.Value.Group() {
			writeAttr(buf, p, g)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(prefix)
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	buf.WriteString(v)
}

func (h *PrettyHandler) label(l slog.Level) string {
	names := [4]string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"}
	if h.zh {
		names = [4]string{"[调试]", "[信息]", "[警告]", "[错误]"}
	}
	switch {
	case l == slog.LevelDebug:
		return names[0]
	case l == slog.LevelInfo:
		return names[1]
	case l == slog.LevelWarn:
		return names[2]
	case l == slog.LevelError:
		return names[3]
	}
	return fmt.Sprintf("[L%d]", l)
}

// shouldColor 处理 LOG_COLOR 取值 always/never/auto，NO_COLOR 优先。
func shouldColor(w io.Writer, mode string) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always":
		return true
	case "auto", "":
		f, ok := w.(*os.File)
		if !ok {
			return false
		}
		fi, err := f.Stat()
		return err == nil && fi.Mode()&os.ModeCharDevice != 0
	}
	return false
}

func colorize(s string, l slog.Level) string {
	code := "0"
	switch {
	case l >= slog.LevelError:
		code = "31"
	case l >= slog.LevelWarn:
		code = "33"
	case l >= slog.LevelInfo:
		code = "36"
	default:
		code = "90"
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

// 命令行入口：
// - 解析 flags 与 settings.yaml/rules.yaml
// - 初始化日志、HTTP 客户端、写入端与浏览器
// - 执行同步任务，打印汇总并按需导出 JSON
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fetch-process/internal/browser"
	"fetch-process/internal/config"
	"fetch-process/internal/export"
	"fetch-process/internal/fetch"
	"fetch-process/internal/logx"
	"fetch-process/internal/platform"
	"fetch-process/internal/report"
	"fetch-process/internal/rules"
	"fetch-process/internal/syncer"
)

func main() {
	var (
		configPath = flag.String("config", "settings.yaml", "path to settings.yaml")
		rulesPath  = flag.String("rules", "rules.yaml", "path to rules.yaml (optional, built-in presets otherwise)")
		exportPath = flag.String("export", "", "write written records and the run report to this json file")
		taskSel    = flag.String("task", "", "run only the task at this index or of this type")
		dryRun     = flag.Bool("dry-run", false, "collect, dedup and resolve without writing")
	)
	flag.Parse()

	// 1) 加载配置与规则
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	rl, err := rules.Load(*rulesPath)
	if err != nil {
		log.Fatalf("load rules: %v", err)
	}
	tasks, err := cfg.Select(*taskSel)
	if err != nil {
		log.Fatalf("select tasks: %v", err)
	}
	// 2) 初始化日志：级别/格式/语言/颜色
	logx.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogLocale, cfg.LogColor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3) 初始化 HTTP 客户端（含代理与重试）
	cl, err := fetch.New(fetch.Options{
		ProxyHTTP:  cfg.Proxy.HTTP,
		ProxyHTTPS: cfg.Proxy.HTTPS,
		Timeout:    25 * time.Second,
		Retry:      cfg.Concurrency.Retry,
	})
	if err != nil {
		log.Fatalf("http client: %v", err)
	}

	// 4) 写入端：只构造所选任务用到的
	sinks, err := openSinks(ctx, cfg, tasks, cl)
	if err != nil {
		log.Fatalf("open sinks: %v", err)
	}
	defer sinks.Close()

	// 5) 浏览器：只在有浏览器平台任务时启动
	deps := platform.Deps{HTTP: cl}
	if needsBrowser(tasks) {
		b, err := browser.Launch(ctx, browser.Options{
			Headless:   cfg.Browser.Headless,
			UserAgent:  cfg.Browser.UserAgent,
			ExecPath:   cfg.Browser.ExecPath,
			Proxy:      firstNonEmpty(cfg.Proxy.HTTPS, cfg.Proxy.HTTP),
			AuthState:  cfg.Browser.AuthState,
			NavTimeout: cfg.Browser.NavTimeout,
			NavRetry:   cfg.Browser.NavRetry,
		})
		if err != nil {
			log.Fatalf("launch browser: %v", err)
		}
		defer b.Close()
		deps.Browser = b
	}

	// 6) 执行同步
	runner := syncer.New(cfg, sinks.bindings, syncer.Options{
		DryRun:  *dryRun,
		Sources: syncer.PlatformSources(rl, deps),
		Runs:    sinks.runs,
	})
	logx.Infof("开始同步：任务=%d 试运行=%v", len(tasks), *dryRun)
	rep := runner.Run(ctx, tasks)
	sinks.cleanup(context.WithoutCancel(ctx), cfg.OutdateCleanDays)

	if err := report.Render(os.Stdout, rep); err != nil {
		logx.Warnf("输出汇总失败：%v", err)
	}

	// 7) 导出：内存写入端优先，其次 sqlite 写入端，都没有时只导出汇总
	if *exportPath != "" {
		var err error
		switch {
		case len(sinks.buffers) > 0:
			err = export.ToJSONData(rep, sinks.memoryRecords(), *exportPath)
		case sinks.runs != nil:
			err = export.ToJSON(context.WithoutCancel(ctx), sinks.runs, rep, *exportPath)
		default:
			err = export.ToJSONData(rep, nil, *exportPath)
		}
		if err != nil {
			log.Fatalf("export json: %v", err)
		}
		logx.Infof("已导出 %s", *exportPath)
	}
}

func needsBrowser(tasks []config.Task) bool {
	for _, t := range tasks {
		if t.Type == config.TaskWeiboHome || t.Type == config.TaskXHSUserNotes {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

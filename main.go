package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/throttlecache/internal/client"
	"github.com/any-hub/throttlecache/internal/config"
	"github.com/any-hub/throttlecache/internal/logging"
	"github.com/any-hub/throttlecache/internal/server"
	"github.com/any-hub/throttlecache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["rules"] = config.RuleSummaries(cfg.Rules)
		fields["cache_mode"] = string(cfg.Global.CacheModeValue())
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 规则表与磁盘缓存 → 客户端链路 → Fiber server，
	// 所有请求共享同一个规则表、缓存实例与限速器。
	manager, err := client.New(cfg, client.Options{Logger: logger})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存客户端失败: %v\n", err)
		return 1
	}
	defer manager.Close()

	httpClient, err := manager.Client()
	if err != nil {
		fmt.Fprintf(stdErr, "构建 HTTP 客户端失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["rules"] = config.RuleSummaries(cfg.Rules)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_mode"] = string(cfg.Global.CacheModeValue())
	fields["rate_limit"] = cfg.Global.RateLimitEnabled
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, manager, httpClient, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("throttlecache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 THROTTLECACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("THROTTLECACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, manager *client.Manager, httpClient *http.Client, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:        logger,
		Client:        httpClient,
		Rules:         manager.Rules(),
		Store:         manager.Store(),
		Scheme:        cfg.Global.UpstreamScheme,
		RestrictHosts: cfg.Global.RestrictHosts,
		ListenPort:    port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

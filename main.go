package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/xk6-cache/internal/cache"
	"github.com/any-hub/xk6-cache/internal/config"
	"github.com/any-hub/xk6-cache/internal/logging"
)

// cliOptions 汇总全局标志，子命令通过它加载配置，便于在测试中注入。
type cliOptions struct {
	configPath string
	cachePath  string
	mode       string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// errVerifyFailed 表示 verify 发现了未 vendoring 的模块，只影响退出码，不额外打印。
var errVerifyFailed = errors.New("modules missing from cache file")

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行 CLI 并返回退出码，方便测试。
func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errVerifyFailed) {
			fmt.Fprintf(stdErr, "错误: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "xk6-cache",
		Short: "Vendor remote k6 modules into a single cache file",
		Long: `xk6-cache manages the cache file used by the k6 cache extension.

A cache file maps module URLs to their content. Record it once in hybrid
mode, commit it next to the test scripts, and replay it in strict mode so
test runs never touch the network for module loading.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("XK6_CACHE_CONFIG"), "配置文件路径（默认读取 XK6_CACHE_CONFIG）")
	flags.StringVarP(&opts.cachePath, "file", "f", "", "缓存文件路径，覆盖 XK6_CACHE")
	flags.StringVar(&opts.mode, "mode", "", "解析模式 hybrid|strict，覆盖 XK6_CACHE_MODE")

	root.AddCommand(
		newVendorCmd(opts),
		newListCmd(opts),
		newVerifyCmd(opts),
		newServeCmd(opts),
		newCheckConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load 按“默认值 → 配置文件 → 环境变量 → 命令行”的优先级得到最终配置。
func (o *cliOptions) load() (*config.Config, error) {
	overrides := map[string]any{}
	if o.cachePath != "" {
		overrides["CachePath"] = o.cachePath
	}
	if o.mode != "" {
		overrides["Mode"] = o.mode
	}
	cfg, err := config.LoadWith(o.configPath, overrides)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

// loadWithLogger 加载配置并初始化日志，供需要运行时日志的子命令使用。
func (o *cliOptions) loadWithLogger() (*config.Config, *logrus.Logger, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.InitLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}

// openStore 打开配置的缓存文件；命令行工具总是需要一个落盘位置。
func openStore(cfg *config.Config, metrics *cache.Metrics) (*cache.Store, error) {
	if !cfg.Persistent() {
		return nil, errors.New("未配置缓存文件：请使用 --file 或设置 XK6_CACHE")
	}
	store, err := cache.Open(cfg.CachePath, cache.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("读取缓存文件失败: %w", err)
	}
	return store, nil
}

func newCheckConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.loadWithLogger()
			if err != nil {
				return err
			}
			fields := logging.BaseFields("check_config", cfg.CachePath)
			fields["mode"] = string(cfg.CacheMode())
			fields["measure"] = cfg.Measure
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}

package k6ext

import (
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"go.k6.io/k6/js/modules"
	"go.k6.io/k6/output"

	"github.com/any-hub/xk6-cache/internal/config"
	"github.com/any-hub/xk6-cache/internal/logging"
)

// ConfigEnv 指向可选的配置文件；其余选项通过 XK6_CACHE* 环境变量覆盖。
const ConfigEnv = "XK6_CACHE_CONFIG"

func init() {
	register()
}

// register 在进程启动时组装 Extension 并注册 JS 模块与 output。
// 缓存文件损坏或配置非法时直接 panic，避免测试在错误的依赖集上运行。
func register() {
	cfg, err := config.Load(os.Getenv(ConfigEnv))
	if err != nil {
		panic(err)
	}

	var logger logrus.FieldLogger = logrus.StandardLogger()
	if cfg.Log.LogFilePath != "" {
		fileLogger, err := logging.InitLogger(cfg.Log)
		if err != nil {
			panic(err)
		}
		logger = fileLogger
	}

	next := http.DefaultTransport
	ext, err := NewExtension(cfg, next, logger)
	if err != nil {
		panic(err)
	}

	modules.Register(ModuleName, New(ext))
	output.RegisterExtension(OutputName, ext.NewOutput)

	if ext.Persistent() {
		http.DefaultTransport = ext.Transport()
	}
}

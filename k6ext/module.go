package k6ext

import (
	"time"

	"go.k6.io/k6/js/modules"
	"go.k6.io/k6/metrics"

	"github.com/any-hub/xk6-cache/internal/logging"
)

// ModuleName 是脚本中 import 的模块路径。
const ModuleName = "k6/x/cache"

type (
	// RootModule 在进程内只创建一次，所有 VU 共享同一个 Extension。
	RootModule struct {
		ext *Extension
	}

	// ModuleInstance 按 VU 创建，只暴露 measure()。
	ModuleInstance struct {
		vu  modules.VU
		ext *Extension
	}
)

var (
	_ modules.Module   = new(RootModule)
	_ modules.Instance = new(ModuleInstance)
)

// New 返回绑定到 ext 的 RootModule。
func New(ext *Extension) *RootModule {
	return &RootModule{ext: ext}
}

// NewModuleInstance 实现 modules.Module，并把 VU 的 metrics registry 交给 registrar。
func (rm *RootModule) NewModuleInstance(vu modules.VU) modules.Instance {
	if env := vu.InitEnv(); env != nil && env.Registry != nil {
		if err := rm.ext.registrar.attach(env.Registry); err != nil {
			rm.ext.log().WithFields(logging.BaseFields("metrics_attach", rm.ext.cfg.CachePath)).
				WithError(err).Warn("cache_metrics_register_failed")
		}
	}
	return &ModuleInstance{vu: vu, ext: rm.ext}
}

// Exports 实现 modules.Instance。
func (mi *ModuleInstance) Exports() modules.Exports {
	return modules.Exports{
		Named: map[string]any{
			"measure": mi.Measure,
		},
	}
}

// Measure 以 prefix 启用计量并推送当前读数。
// init 阶段没有 VU state，只做启用；前缀冲突或指标未能注册到 k6 时返回 false 而不中断脚本。
func (mi *ModuleInstance) Measure(prefix string) bool {
	if err := mi.ext.metrics.Enable(prefix); err != nil {
		mi.ext.log().WithError(err).WithField("prefix", prefix).Warn("cache_measure_rejected")
		return false
	}
	if err := mi.ext.registrar.failure(); err != nil {
		mi.ext.log().WithError(err).WithField("prefix", prefix).Warn("cache_measure_rejected")
		return false
	}

	state := mi.vu.State()
	if state == nil {
		return true
	}

	samples, err := mi.ext.registrar.samples(mi.ext.metrics.Snapshot(), state.Tags.GetCurrentValues().Tags, time.Now())
	if err != nil {
		mi.ext.log().WithError(err).Warn("cache_measure_skipped")
		return false
	}

	metrics.PushIfNotDone(mi.vu.Context(), state.Samples, samples)
	return true
}

package k6ext

import (
	"fmt"

	"go.k6.io/k6/metrics"
	"go.k6.io/k6/output"
)

// OutputName 是 `k6 run --out` 使用的名称。
const OutputName = "cache"

// Output 不消费任何样本，只负责在测试结束时把新条目写回缓存文件。
type Output struct {
	ext *Extension
}

var _ output.Output = (*Output)(nil)

// NewOutput 是 output.RegisterExtension 的构造函数，同时接管 k6 提供的 logger。
func (e *Extension) NewOutput(params output.Params) (output.Output, error) {
	if params.Logger != nil {
		e.setLogger(params.Logger)
	}
	return &Output{ext: e}, nil
}

// Description 实现 output.Output。
func (o *Output) Description() string {
	if !o.ext.Persistent() {
		return "cache (-)"
	}
	return fmt.Sprintf("cache (%s)", o.ext.cfg.CachePath)
}

// Start 实现 output.Output。
func (o *Output) Start() error {
	return nil
}

// AddMetricSamples 实现 output.Output。
func (o *Output) AddMetricSamples(_ []metrics.SampleContainer) {}

// Stop 在 k6 结束时保存缓存文件。
func (o *Output) Stop() error {
	return o.ext.Save()
}

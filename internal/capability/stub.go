package capability

import (
	"context"

	"go.uber.org/zap"
)

// LoggingConfigPatcher, LoggingFailoverRouter, and LoggingResourceCleaner
// back the Recovery engine's ConfigPatcher/FailoverRouter/ResourceCleaner
// capabilities the same way update_config/perform_failover/
// cleanup_resources behave in the source: each is itself a stub there
// ("실제로는 구체적인 설정 변경 로직이 필요" / "실제로는 로드밸런서 설정
// 변경 등이 필요"), acknowledging the action and returning success
// without touching any concrete infrastructure. A deployment that needs
// a real ConfigMap patch, load-balancer re-route, or temp-file sweep
// supplies its own capability satisfying the same interface.
type LoggingConfigPatcher struct{ Logger *zap.Logger }

func (p *LoggingConfigPatcher) PatchConfig(ctx context.Context, target string) error {
	p.Logger.Info("config patch acknowledged (no concrete backend configured)", zap.String("target", target))
	return nil
}

type LoggingFailoverRouter struct{ Logger *zap.Logger }

func (r *LoggingFailoverRouter) Failover(ctx context.Context, target string) error {
	r.Logger.Info("failover acknowledged (no load balancer configured)", zap.String("target", target))
	return nil
}

type LoggingResourceCleaner struct{ Logger *zap.Logger }

func (c *LoggingResourceCleaner) Cleanup(ctx context.Context, target string) (int64, error) {
	c.Logger.Info("resource cleanup acknowledged (no concrete sweep configured)", zap.String("target", target))
	return 0, nil
}

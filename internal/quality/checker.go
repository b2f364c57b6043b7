package quality

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/supervision-cli/internal/config"
)

// Checker runs periodic quality checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.QualityConfig
}

// NewChecker creates a background quality checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.QualityConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run checks once immediately and then on every interval. It blocks until
// ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	log := zap.L().With(zap.String("component", "quality.checker"))
	log.Info("starting quality checker", zap.Duration("interval", interval))

	if ctx.Err() == nil {
		c.Check(ctx, log)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("quality checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one report, evaluates it and sends any alerts. It returns
// the number of alerts triggered.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) int {
	report, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("quality: failed to collect report", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(report)
	if len(alerts) == 0 {
		log.Debug("quality: no alerts triggered",
			zap.Int("submissions", report.Submissions),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("quality: check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return len(alerts)
}

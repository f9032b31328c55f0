package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dex-relayer/internal/config"
	"dex-relayer/internal/store"
)

// App 聚合核心依赖并驱动中继生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 初始化中继管线并以固定节奏轮询未关闭订单。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("中继系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Uint64("chain_id", a.cfg.Chain.ID),
		zap.Int("protocols", len(a.cfg.Chain.Protocols)),
	)

	rel, err := newRelayer(ctx, a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}
	defer rel.Close()

	loopInterval := a.cfg.Relayer.LoopInterval
	if loopInterval <= 0 {
		loopInterval = 30 * time.Second
	}

	if err = rel.Tick(ctx); err != nil {
		a.logger.Error("首次执行失败", zap.Error(err))
	}

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err = rel.Tick(ctx); err != nil {
				a.logger.Error("执行调度失败", zap.Error(err))
			}
		}
	}
}

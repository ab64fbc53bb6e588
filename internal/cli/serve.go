package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/handler"
	"creditledger/internal/infrastructure/cache"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/infrastructure/mq"
	"creditledger/internal/job"
	"creditledger/internal/metrics"
	"creditledger/internal/service"
	"creditledger/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeDB(db)

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	locker, cleanup, err := newLocker(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewLedgerMetrics(reg)

	ledger := service.NewLedgerService(db, locker, cfg, m, log)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	waitRelay := func() {}
	if cfg.Kafka.Enabled {
		producer, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(db, producer, &cfg.Job, m, log)
		go outboxSender.Start(ctx)
		waitRelay = func() { <-outboxSender.Done() }
	} else {
		log.Warn().Msg("Kafka 未启用，积分事件保留在 outbox 表中")
	}
	// 先于 producer.Close 执行：停止投递并等待在途消息结束
	defer func() {
		cancel()
		waitRelay()
	}()

	reconcileJob := job.NewReconcileJob(db, ledger, &cfg.Job, m, log)
	if err := reconcileJob.Start(ctx); err != nil {
		return err
	}
	defer reconcileJob.Stop()

	router := handler.SetupRouter(ledger, reg, &cfg.Server, log)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("服务启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info().Msg("正在关闭服务...")
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("服务关闭异常")
	}

	log.Info().Msg("服务已关闭")
	return nil
}

// newLocker 按配置选择用户锁实现
func newLocker(cfg *config.Config, log zerolog.Logger) (lock.UserLocker, func(), error) {
	if cfg.Lock.Backend == "local" {
		return lock.NewLocalLocker(), func() {}, nil
	}

	client, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	locker := lock.NewRedisLocker(client, cfg.Lock.Expiry, cfg.Lock.RetryInterval, cfg.Lock.Tries, log)
	return locker, func() { client.Close() }, nil
}

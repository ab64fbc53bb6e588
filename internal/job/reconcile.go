package job

import (
	"context"
	"fmt"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/metrics"
	"creditledger/internal/repository"
	"creditledger/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ReconcileJob 定时对账：逐个校验 credits 是否等于流水之和
// 只记录和上报不一致的账户，不自动修正
type ReconcileJob struct {
	accountRepo *repository.AccountRepository
	ledger      *service.LedgerService
	metrics     *metrics.LedgerMetrics
	log         zerolog.Logger
	spec        string
	batchSize   int
	cron        *cron.Cron
}

// ReconcileSummary 一次全量对账的统计
type ReconcileSummary struct {
	Checked    int
	Mismatched []*service.ReconcileResult
	Duration   time.Duration
}

func NewReconcileJob(db *gorm.DB, ledger *service.LedgerService, cfg *config.JobConfig, m *metrics.LedgerMetrics, log zerolog.Logger) *ReconcileJob {
	batch := cfg.ReconcileBatch
	if batch <= 0 {
		batch = 200
	}
	return &ReconcileJob{
		accountRepo: repository.NewAccountRepository(db),
		ledger:      ledger,
		metrics:     m,
		log:         log.With().Str("job", "reconcile").Logger(),
		spec:        cfg.ReconcileSpec,
		batchSize:   batch,
	}
}

// Start 按 cron 表达式（支持秒级）调度，spec 为空时不启动
func (j *ReconcileJob) Start(ctx context.Context) error {
	if j.spec == "" {
		j.log.Info().Msg("未配置对账周期，对账任务不启动")
		return nil
	}

	j.cron = cron.New(cron.WithSeconds())
	_, err := j.cron.AddFunc(j.spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if _, err := j.RunOnce(runCtx); err != nil {
			j.log.Error().Err(err).Msg("对账失败")
		}
	})
	if err != nil {
		return fmt.Errorf("添加对账任务失败: %w", err)
	}

	j.cron.Start()
	j.log.Info().Str("spec", j.spec).Msg("对账任务启动")
	return nil
}

// Stop 等待正在执行的对账结束
func (j *ReconcileJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.log.Info().Msg("对账任务停止")
}

// RunOnce 按主键游标分批扫描全部账户
func (j *ReconcileJob) RunOnce(ctx context.Context) (*ReconcileSummary, error) {
	start := time.Now()
	summary := &ReconcileSummary{}

	var afterID int64
	for {
		accounts, err := j.accountRepo.ListAfterID(ctx, afterID, j.batchSize)
		if err != nil {
			return summary, fmt.Errorf("查询账户失败: %w", err)
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			result, err := j.ledger.Reconcile(ctx, account.UserID)
			if err != nil {
				return summary, err
			}
			summary.Checked++
			if !result.Consistent {
				summary.Mismatched = append(summary.Mismatched, result)
				j.log.Error().
					Str("user_id", result.UserID).
					Int64("credits", result.Credits).
					Int64("transaction_sum", result.TransactionSum).
					Msg("账户余额与流水不一致")
			}
		}
		afterID = accounts[len(accounts)-1].ID
	}

	summary.Duration = time.Since(start)
	if j.metrics != nil {
		j.metrics.ReconcileMismatch.Set(float64(len(summary.Mismatched)))
	}
	j.log.Info().
		Int("checked", summary.Checked).
		Int("mismatched", len(summary.Mismatched)).
		Dur("duration", summary.Duration).
		Msg("对账完成")
	return summary, nil
}

package job

import (
	"context"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Publisher 消息投递方，生产环境为 Kafka 生产者
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender 轮询 outbox 表，把积分事件投递到消息队列
// 投递成功后才标记为 SENT，保证至少一次
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     Publisher
	metrics       *metrics.LedgerMetrics
	log           zerolog.Logger
	stopCh        chan struct{}
	done          chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.JobConfig, m *metrics.LedgerMetrics, log zerolog.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publisher:     publisher,
		metrics:       m,
		log:           log.With().Str("job", "outbox_sender").Logger(),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		interval:      cfg.OutboxInterval,
		batchSize:     cfg.OutboxBatchSize,
		maxRetryCount: cfg.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	defer close(s.done)
	s.log.Info().Dur("interval", s.interval).Msg("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info().Msg("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// Done 在 Start 返回后关闭；关闭生产者前需要等待，避免正在投递的消息与 Close 并发
func (s *OutboxSender) Done() <-chan struct{} {
	return s.done
}

// processPendingMessages 按 id 顺序投递一批消息，返回成功条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("查询消息失败")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			// 下一轮会重复投递，消费方按 transaction_no 去重
			s.log.Error().Err(updateErr).Int64("id", msg.ID).Msg("更新消息状态失败")
			return false
		}
		if s.metrics != nil {
			s.metrics.OutboxSentTotal.Inc()
		}
		s.log.Debug().Int64("id", msg.ID).Str("topic", msg.Topic).Str("key", msg.MessageKey).Msg("消息发送成功")
		return true
	}

	if s.metrics != nil {
		s.metrics.OutboxFailedTotal.Inc()
	}
	s.log.Warn().Err(err).Int64("id", msg.ID).Int("retry_count", msg.RetryCount).Msg("消息发送失败")

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error().Err(err).Int64("id", msg.ID).Msg("增加重试次数失败")
	}

	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error().Err(err).Int64("id", msg.ID).Msg("标记消息失败状态失败")
		} else {
			s.log.Error().Int64("id", msg.ID).Msg("消息超过最大重试次数，标记为失败")
		}
	}
	return false
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100

	initialCreditsDescription = "新用户初始积分"
	purchaseDescription       = "购买积分"
	refundDescription         = "积分退还"
)

// 幂等键前缀
const (
	requestKeyDeduct        = "deduct:"
	requestKeyRefund        = "refund:"
	requestKeyFailureRefund = "failure_refund:"
	requestKeyPurchase      = "purchase:"
)

// LedgerService 积分账本
//
// 【关键点】所有改变余额的操作都需要保证：
// 1. 原子性：余额更新、流水记录、事件消息在同一个数据库事务中提交，任一失败整体回滚
// 2. 并发安全：同一用户的写操作持有用户锁，扣减本身是带 credits >= cost 条件的单条 UPDATE
// 3. 幂等性：携带 request_id 的请求重试时返回首次结果，不会重复扣费
type LedgerService struct {
	db              *gorm.DB
	locker          lock.UserLocker
	pricing         *Pricing
	initialCredits  int64
	refundRatio     float64
	eventTopic      string
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	metrics         *metrics.LedgerMetrics
	log             zerolog.Logger
}

// NewLedgerService locker 为 nil 时只依赖条件更新保证不超扣
func NewLedgerService(db *gorm.DB, locker lock.UserLocker, cfg *config.Config, m *metrics.LedgerMetrics, log zerolog.Logger) *LedgerService {
	if m == nil {
		m = metrics.NewLedgerMetrics(prometheus.NewRegistry())
	}
	return &LedgerService{
		db:              db,
		locker:          locker,
		pricing:         NewPricing(cfg.Ledger.Pricing, cfg.Ledger.ServiceNames),
		initialCredits:  cfg.Ledger.InitialCredits,
		refundRatio:     cfg.Ledger.RefundRatio,
		eventTopic:      cfg.Kafka.Topic.CreditEvent,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		metrics:         m,
		log:             log.With().Str("component", "ledger").Logger(),
	}
}

type DeductRequest struct {
	UserID      string
	ServiceType string
	RequestID   string // 幂等键，可为空
}

type RefundRequest struct {
	UserID    string
	Amount    int64
	Reason    string
	RequestID string
}

type PurchaseRequest struct {
	UserID           string
	Amount           int64
	PaymentReference string // 支付单号，同时作为幂等键
}

// ReconcileResult 单个账户的对账结果
type ReconcileResult struct {
	UserID           string `json:"user_id"`
	Credits          int64  `json:"credits"`
	TransactionSum   int64  `json:"transaction_sum"`
	TransactionCount int64  `json:"transaction_count"`
	Consistent       bool   `json:"consistent"`
}

// Pricing 价格表
func (s *LedgerService) Pricing() *Pricing {
	return s.pricing
}

// RequiredCredits 查询功能价格，与用户无关
func (s *LedgerService) RequiredCredits(serviceType string) int64 {
	return s.pricing.RequiredCredits(serviceType)
}

// ============================================================
// 查询
// ============================================================

// GetAccount 查询账户，不存在时创建并发放初始积分
func (s *LedgerService) GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	if userID == "" {
		return nil, invalidArgument("user_id 不能为空")
	}

	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, wrapStorageErr("查询积分账户", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err = s.ensureAccount(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, wrapStorageErr("初始化积分账户", err)
	}
	return account, nil
}

// GetBalance 查询当前可用积分
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Credits, nil
}

// HasSufficientBalance 只读判断，除账户懒创建外没有副作用
func (s *LedgerService) HasSufficientBalance(ctx context.Context, userID string, required int64) (bool, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= required, nil
}

// ListTransactions 分页查询流水，page 从 0 开始，按时间倒序
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit, page int) ([]*model.CreditTransaction, int64, error) {
	if userID == "" {
		return nil, 0, invalidArgument("user_id 不能为空")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if page < 0 {
		page = 0
	}

	list, total, err := s.transactionRepo.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, wrapStorageErr("查询积分流水", err)
	}
	return list, total, nil
}

// Reconcile 校验 credits 是否等于流水金额之和
func (s *LedgerService) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	if userID == "" {
		return nil, invalidArgument("user_id 不能为空")
	}

	result := &ReconcileResult{UserID: userID}
	// 同一事务内读取，保证账户与流水来自同一快照
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		sum, count, err := s.transactionRepo.SumByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		result.Credits = account.Credits
		result.TransactionSum = sum
		result.TransactionCount = count
		result.Consistent = account.Credits == sum
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, err
		}
		return nil, wrapStorageErr("积分对账", err)
	}
	return result, nil
}

// ============================================================
// 扣减
// ============================================================

// Deduct 按功能价格扣减积分，返回扣减后的余额
// 价格为 0（未知功能）时直接返回当前余额，不记录流水
func (s *LedgerService) Deduct(ctx context.Context, req *DeductRequest) (int64, error) {
	if req == nil || req.UserID == "" {
		return 0, invalidArgument("user_id 不能为空")
	}
	if req.ServiceType == "" {
		return 0, invalidArgument("service_type 不能为空")
	}

	cost := s.pricing.RequiredCredits(req.ServiceType)
	if cost == 0 {
		s.metrics.DeductTotal.WithLabelValues(req.ServiceType, "free").Inc()
		return s.GetBalance(ctx, req.UserID)
	}

	defer s.observe("deduct", time.Now())

	unlock, err := s.lockUser(ctx, req.UserID)
	if err != nil {
		s.metrics.DeductTotal.WithLabelValues(req.ServiceType, "error").Inc()
		return 0, err
	}
	defer unlock()

	var (
		balance   int64
		duplicate bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureAccount(ctx, tx, req.UserID); err != nil {
			return err
		}

		if req.RequestID != "" {
			existing, err := s.findDuplicate(ctx, tx, *requestKey(requestKeyDeduct, req.RequestID), req.UserID, req.ServiceType)
			if err != nil {
				return err
			}
			if existing != nil {
				balance, duplicate = existing.BalanceAfter, true
				return nil
			}
		}

		if err := s.accountRepo.Deduct(ctx, tx, req.UserID, cost); err != nil {
			if errors.Is(err, repository.ErrCreditsNotEnough) {
				return fmt.Errorf("%w: %s 需要 %d 积分", ErrInsufficientCredits, req.ServiceType, cost)
			}
			return fmt.Errorf("扣减积分: %w", err)
		}

		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		balance = account.Credits

		return s.appendTransaction(ctx, tx, &model.CreditTransaction{
			UserID:       req.UserID,
			Amount:       -cost,
			Description:  s.pricing.ServiceName(req.ServiceType),
			ServiceType:  req.ServiceType,
			BalanceAfter: balance,
			RequestID:    requestKey(requestKeyDeduct, req.RequestID),
		}, model.EventCreditsDeducted)
	})

	switch {
	case err == nil && duplicate:
		s.metrics.DeductTotal.WithLabelValues(req.ServiceType, "duplicate").Inc()
		s.log.Info().Str("user_id", req.UserID).Str("request_id", req.RequestID).Msg("重复的扣减请求，返回首次结果")
		return balance, nil
	case err == nil:
		s.metrics.DeductTotal.WithLabelValues(req.ServiceType, "success").Inc()
		s.metrics.CreditsDeducted.WithLabelValues(req.ServiceType).Add(float64(cost))
		s.log.Info().
			Str("user_id", req.UserID).
			Str("service_type", req.ServiceType).
			Int64("cost", cost).
			Int64("balance", balance).
			Msg("扣减积分成功")
		return balance, nil
	case errors.Is(err, ErrInsufficientCredits):
		s.metrics.DeductTotal.WithLabelValues(req.ServiceType, "insufficient").Inc()
		return 0, err
	default:
		s.metrics.DeductTotal.WithLabelValues(req.ServiceType, "error").Inc()
		s.log.Error().Err(err).Str("user_id", req.UserID).Str("service_type", req.ServiceType).Msg("扣减积分失败")
		return 0, wrapStorageErr("扣减积分", err)
	}
}

// ============================================================
// 入账
// ============================================================

// Refund 退还积分，不减少 used_credits（累计消耗按毛额统计）
func (s *LedgerService) Refund(ctx context.Context, req *RefundRequest) (int64, error) {
	return s.refund(ctx, req, requestKeyRefund)
}

// RefundFailure 外部 AI 调用失败后按配置比例退还该功能的积分
// requestID 为对应扣减请求的幂等键，同一次失败只会退还一次
func (s *LedgerService) RefundFailure(ctx context.Context, userID, serviceType, requestID string) (int64, error) {
	if userID == "" {
		return 0, invalidArgument("user_id 不能为空")
	}

	amount := int64(math.Floor(float64(s.pricing.RequiredCredits(serviceType)) * s.refundRatio))
	if amount <= 0 {
		return s.GetBalance(ctx, userID)
	}

	return s.refund(ctx, &RefundRequest{
		UserID:    userID,
		Amount:    amount,
		Reason:    s.pricing.ServiceName(serviceType) + "失败退还",
		RequestID: requestID,
	}, requestKeyFailureRefund)
}

func (s *LedgerService) refund(ctx context.Context, req *RefundRequest, keyPrefix string) (int64, error) {
	if req == nil || req.UserID == "" {
		return 0, invalidArgument("user_id 不能为空")
	}
	if req.Amount <= 0 {
		return 0, invalidArgument("退还积分必须大于0: %d", req.Amount)
	}

	reason := req.Reason
	if reason == "" {
		reason = refundDescription
	}

	balance, duplicate, err := s.credit(ctx, "refund", &model.CreditTransaction{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: reason,
		ServiceType: model.ServiceTypeRefund,
		RequestID:   requestKey(keyPrefix, req.RequestID),
	}, model.EventCreditsRefunded)
	if err != nil {
		return 0, err
	}
	if duplicate {
		s.log.Info().Str("user_id", req.UserID).Str("request_id", req.RequestID).Msg("重复的退还请求，返回首次结果")
		return balance, nil
	}

	s.metrics.RefundTotal.Inc()
	s.metrics.CreditsRefunded.Add(float64(req.Amount))
	s.log.Info().Str("user_id", req.UserID).Int64("amount", req.Amount).Str("reason", reason).Msg("退还积分成功")
	return balance, nil
}

// GrantPurchase 支付确认后发放积分，支付单号重复时不会重复发放
func (s *LedgerService) GrantPurchase(ctx context.Context, req *PurchaseRequest) (int64, error) {
	if req == nil || req.UserID == "" {
		return 0, invalidArgument("user_id 不能为空")
	}
	if req.Amount <= 0 {
		return 0, invalidArgument("购买积分必须大于0: %d", req.Amount)
	}
	if req.PaymentReference == "" {
		return 0, invalidArgument("payment_reference 不能为空")
	}

	balance, duplicate, err := s.credit(ctx, "purchase", &model.CreditTransaction{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: purchaseDescription,
		ServiceType: model.ServiceTypePurchase,
		RequestID:   requestKey(requestKeyPurchase, req.PaymentReference),
	}, model.EventCreditsPurchase)
	if err != nil {
		return 0, err
	}
	if duplicate {
		s.log.Info().Str("user_id", req.UserID).Str("payment_reference", req.PaymentReference).Msg("支付单已发放过积分，返回首次结果")
		return balance, nil
	}

	s.metrics.PurchaseTotal.Inc()
	s.metrics.CreditsGranted.WithLabelValues("purchase").Add(float64(req.Amount))
	s.log.Info().Str("user_id", req.UserID).Int64("amount", req.Amount).Str("payment_reference", req.PaymentReference).Msg("发放购买积分成功")
	return balance, nil
}

// credit 入账的公共流程：加锁 -> 事务内(懒创建 -> 幂等检查 -> 加余额 -> 记流水)
// 幂等键命中时 duplicate 为 true，返回首次入账后的余额
func (s *LedgerService) credit(ctx context.Context, op string, trans *model.CreditTransaction, event string) (balance int64, duplicate bool, err error) {
	defer s.observe(op, time.Now())

	unlock, err := s.lockUser(ctx, trans.UserID)
	if err != nil {
		return 0, false, err
	}
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureAccount(ctx, tx, trans.UserID); err != nil {
			return err
		}

		if trans.RequestID != nil {
			existing, err := s.findDuplicate(ctx, tx, *trans.RequestID, trans.UserID, trans.ServiceType)
			if err != nil {
				return err
			}
			if existing != nil {
				balance, duplicate = existing.BalanceAfter, true
				return nil
			}
		}

		if err := s.accountRepo.Increase(ctx, tx, trans.UserID, trans.Amount); err != nil {
			return fmt.Errorf("增加积分: %w", err)
		}

		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, trans.UserID)
		if err != nil {
			return err
		}
		balance = account.Credits
		trans.BalanceAfter = balance

		return s.appendTransaction(ctx, tx, trans, event)
	})
	if err != nil {
		s.log.Error().Err(err).Str("user_id", trans.UserID).Str("op", op).Msg("积分入账失败")
		return 0, false, wrapStorageErr(op, err)
	}
	return balance, duplicate, nil
}

// ============================================================
// 内部方法
// ============================================================

// ensureAccount 在 tx 内获取账户，不存在时创建账户并写入初始积分流水
func (s *LedgerService) ensureAccount(ctx context.Context, tx *gorm.DB, userID string) (*model.CreditAccount, error) {
	account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	created, err := s.accountRepo.CreateIfAbsent(ctx, tx, &model.CreditAccount{
		UserID:  userID,
		Credits: s.initialCredits,
	})
	if err != nil {
		return nil, fmt.Errorf("创建积分账户: %w", err)
	}

	if created && s.initialCredits > 0 {
		err = s.appendTransaction(ctx, tx, &model.CreditTransaction{
			UserID:       userID,
			Amount:       s.initialCredits,
			Description:  initialCreditsDescription,
			ServiceType:  model.ServiceTypeSystem,
			BalanceAfter: s.initialCredits,
		}, model.EventCreditsGranted)
		if err != nil {
			return nil, err
		}
		s.metrics.CreditsGranted.WithLabelValues("initial").Add(float64(s.initialCredits))
		s.log.Info().Str("user_id", userID).Int64("credits", s.initialCredits).Msg("新用户积分账户已创建")
	}

	// 并发创建时本事务可能没有插入成功，需要当前读才能看到对方提交的账户
	return s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
}

// findDuplicate 查询该用户幂等键对应的流水；同一幂等键用于其他功能时返回参数错误
func (s *LedgerService) findDuplicate(ctx context.Context, tx *gorm.DB, requestID, userID, serviceType string) (*model.CreditTransaction, error) {
	existing, err := s.transactionRepo.GetByRequestID(ctx, tx, userID, requestID)
	if err != nil {
		return nil, fmt.Errorf("查询幂等流水: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.ServiceType != serviceType {
		return nil, invalidArgument("request_id %s 已被其他操作使用", requestID)
	}
	return existing, nil
}

// appendTransaction 写入流水与对应的积分事件，必须在余额更新的同一个 tx 内调用
func (s *LedgerService) appendTransaction(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction, event string) error {
	trans.TransactionNo = idgen.GenerateTransactionNo()
	if trans.CreatedAt.IsZero() {
		trans.CreatedAt = time.Now()
	}

	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("记录流水失败: %w", err)
	}

	payload, err := json.Marshal(model.CreditEvent{
		Event:         event,
		TransactionNo: trans.TransactionNo,
		UserID:        trans.UserID,
		Amount:        trans.Amount,
		ServiceType:   trans.ServiceType,
		BalanceAfter:  trans.BalanceAfter,
		CreatedAt:     trans.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("序列化积分事件: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: trans.UserID,
		Topic:      s.eventTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

func (s *LedgerService) lockUser(ctx context.Context, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	unlock, err := s.locker.LockUser(ctx, userID)
	if err != nil {
		s.metrics.LockAcquireTotal.WithLabelValues("failed").Inc()
		s.log.Warn().Err(err).Str("user_id", userID).Msg("获取用户锁失败")
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	s.metrics.LockAcquireTotal.WithLabelValues("success").Inc()
	return unlock, nil
}

func (s *LedgerService) observe(op string, start time.Time) {
	s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// requestKey 按操作类型给调用方的幂等键加前缀，不同类型的操作互不占用
func requestKey(prefix, id string) *string {
	if id == "" {
		return nil
	}
	key := prefix + id
	return &key
}

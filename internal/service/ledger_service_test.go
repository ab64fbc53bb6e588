package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/database"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.InitDB(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "credit.db"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitDB() error: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestService(t *testing.T, mutate func(cfg *config.Config)) (*LedgerService, *gorm.DB) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	db := newTestDB(t)
	return NewLedgerService(db, lock.NewLocalLocker(), cfg, nil, zerolog.Nop()), db
}

func assertConsistent(t *testing.T, s *LedgerService, userID string) {
	t.Helper()
	result, err := s.Reconcile(context.Background(), userID)
	if err != nil {
		t.Fatalf("Reconcile(%s) error: %v", userID, err)
	}
	if !result.Consistent {
		t.Errorf("user %s: credits %d != transaction sum %d", userID, result.Credits, result.TransactionSum)
	}
}

func TestLedgerService_NewUserGetsInitialCredits(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	balance, err := s.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}

	list, total, err := s.ListTransactions(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions() error: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Fatalf("transactions = %d (total %d), want 1", len(list), total)
	}
	if list[0].ServiceType != model.ServiceTypeSystem || list[0].Amount != 100 || list[0].BalanceAfter != 100 {
		t.Errorf("initial transaction = %+v", list[0])
	}

	// 第二次查询不会重复发放
	if balance, _ = s.GetBalance(ctx, "u1"); balance != 100 {
		t.Errorf("balance after second read = %d, want 100", balance)
	}
	assertConsistent(t, s, "u1")
}

func TestLedgerService_ZeroInitialCredits(t *testing.T) {
	s, _ := newTestService(t, func(cfg *config.Config) { cfg.Ledger.InitialCredits = 0 })
	ctx := context.Background()

	balance, err := s.GetBalance(ctx, "u1")
	if err != nil || balance != 0 {
		t.Fatalf("GetBalance() = %d, %v; want 0, nil", balance, err)
	}
	_, total, _ := s.ListTransactions(ctx, "u1", 10, 0)
	if total != 0 {
		t.Errorf("transactions = %d, want 0", total)
	}
	assertConsistent(t, s, "u1")
}

// 100 -> 艺术卡片 -> 30 次对话 -> 封面 -> 余额不足
func TestLedgerService_UsageScenario(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	balance, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeArtCard})
	if err != nil || balance != 75 {
		t.Fatalf("Deduct(art_card) = %d, %v; want 75", balance, err)
	}

	for i := 0; i < 30; i++ {
		if balance, err = s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeChat}); err != nil {
			t.Fatalf("Deduct(chat #%d) error: %v", i, err)
		}
	}
	if balance != 45 {
		t.Errorf("balance after chats = %d, want 45", balance)
	}

	if balance, err = s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeCoverGenerator}); err != nil || balance != 20 {
		t.Fatalf("Deduct(cover_generator) = %d, %v; want 20", balance, err)
	}

	ok, err := s.HasSufficientBalance(ctx, "u1", s.RequiredCredits(model.ServiceTypeArtCard))
	if err != nil || ok {
		t.Errorf("HasSufficientBalance(25) = %v, %v; want false", ok, err)
	}

	_, err = s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeArtCard})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("Deduct(art_card) error = %v, want ErrInsufficientCredits", err)
	}

	account, err := s.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("GetAccount() error: %v", err)
	}
	if account.Credits != 20 || account.UsedCredits != 80 {
		t.Errorf("account = %d credits / %d used, want 20 / 80", account.Credits, account.UsedCredits)
	}

	_, total, _ := s.ListTransactions(ctx, "u1", 10, 0)
	if total != 33 {
		t.Errorf("transactions = %d, want 33", total)
	}
	assertConsistent(t, s, "u1")
}

func TestLedgerService_DeductUnknownServiceIsFree(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	balance, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: "video_generation"})
	if err != nil || balance != 100 {
		t.Fatalf("Deduct(unknown) = %d, %v; want 100, nil", balance, err)
	}
	_, total, _ := s.ListTransactions(ctx, "u1", 10, 0)
	if total != 1 {
		t.Errorf("transactions = %d, want only the initial grant", total)
	}
}

func TestLedgerService_InvalidArguments(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"get balance empty user", func() error { _, err := s.GetBalance(ctx, ""); return err }},
		{"deduct nil request", func() error { _, err := s.Deduct(ctx, nil); return err }},
		{"deduct empty service", func() error {
			_, err := s.Deduct(ctx, &DeductRequest{UserID: "u1"})
			return err
		}},
		{"refund zero", func() error {
			_, err := s.Refund(ctx, &RefundRequest{UserID: "u1", Amount: 0})
			return err
		}},
		{"refund negative", func() error {
			_, err := s.Refund(ctx, &RefundRequest{UserID: "u1", Amount: -5})
			return err
		}},
		{"purchase without reference", func() error {
			_, err := s.GrantPurchase(ctx, &PurchaseRequest{UserID: "u1", Amount: 100})
			return err
		}},
		{"purchase zero", func() error {
			_, err := s.GrantPurchase(ctx, &PurchaseRequest{UserID: "u1", PaymentReference: "p1"})
			return err
		}},
		{"list empty user", func() error { _, _, err := s.ListTransactions(ctx, "", 10, 0); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestLedgerService_RefundDoesNotTouchUsedCredits(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeImageGeneration}); err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}
	balance, err := s.Refund(ctx, &RefundRequest{UserID: "u1", Amount: 7})
	if err != nil || balance != 92 {
		t.Fatalf("Refund(7) = %d, %v; want 92", balance, err)
	}

	account, _ := s.GetAccount(ctx, "u1")
	if account.UsedCredits != 15 {
		t.Errorf("UsedCredits = %d, want 15", account.UsedCredits)
	}

	list, _, _ := s.ListTransactions(ctx, "u1", 10, 0)
	if list[0].Amount != 7 || list[0].ServiceType != model.ServiceTypeRefund || list[0].Description != refundDescription {
		t.Errorf("latest transaction = %+v", list[0])
	}
	if list[1].Amount != -15 || list[1].Description != "图片生成" {
		t.Errorf("deduct transaction = %+v", list[1])
	}
	assertConsistent(t, s, "u1")
}

func TestLedgerService_RefundFailure(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeArtCard, RequestID: "r1"}); err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}
	// 25 * 0.5 向下取整为 12
	balance, err := s.RefundFailure(ctx, "u1", model.ServiceTypeArtCard, "r1")
	if err != nil || balance != 87 {
		t.Fatalf("RefundFailure() = %d, %v; want 87", balance, err)
	}
	// 同一次失败重复退还不生效
	if balance, err = s.RefundFailure(ctx, "u1", model.ServiceTypeArtCard, "r1"); err != nil || balance != 87 {
		t.Errorf("RefundFailure(retry) = %d, %v; want 87", balance, err)
	}
	// 退还金额为 0 时不记录流水
	if balance, err = s.RefundFailure(ctx, "u1", model.ServiceTypeChat, "r2"); err != nil || balance != 87 {
		t.Errorf("RefundFailure(chat) = %d, %v; want 87", balance, err)
	}

	_, total, _ := s.ListTransactions(ctx, "u1", 10, 0)
	if total != 3 {
		t.Errorf("transactions = %d, want 3", total)
	}
	assertConsistent(t, s, "u1")
}

func TestLedgerService_GrantPurchaseIdempotent(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	req := &PurchaseRequest{UserID: "u1", Amount: 500, PaymentReference: "PAY001"}
	for i := 0; i < 3; i++ {
		balance, err := s.GrantPurchase(ctx, req)
		if err != nil || balance != 600 {
			t.Fatalf("GrantPurchase(#%d) = %d, %v; want 600", i, balance, err)
		}
	}

	_, total, _ := s.ListTransactions(ctx, "u1", 10, 0)
	if total != 2 {
		t.Errorf("transactions = %d, want 2", total)
	}

	// 重复请求不计入发放指标
	if got := testutil.ToFloat64(s.metrics.PurchaseTotal); got != 1 {
		t.Errorf("PurchaseTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.metrics.CreditsGranted.WithLabelValues("purchase")); got != 500 {
		t.Errorf("CreditsGranted{purchase} = %v, want 500", got)
	}
	assertConsistent(t, s, "u1")
}

func TestLedgerService_RefundIdempotentMetrics(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	req := &RefundRequest{UserID: "u1", Amount: 7, RequestID: "rf-1"}
	for i := 0; i < 3; i++ {
		if balance, err := s.Refund(ctx, req); err != nil || balance != 107 {
			t.Fatalf("Refund(#%d) = %d, %v; want 107", i, balance, err)
		}
	}
	if got := testutil.ToFloat64(s.metrics.RefundTotal); got != 1 {
		t.Errorf("RefundTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.metrics.CreditsRefunded); got != 7 {
		t.Errorf("CreditsRefunded = %v, want 7", got)
	}
}

// 调用方的幂等键按操作类型与用户隔离
func TestLedgerService_RequestIDScopes(t *testing.T) {
	ctx := context.Background()

	t.Run("deduct key shaped like a purchase", func(t *testing.T) {
		s, _ := newTestService(t, nil)
		if _, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeChat, RequestID: "purchase:PAY9"}); err != nil {
			t.Fatalf("Deduct() error: %v", err)
		}
		balance, err := s.GrantPurchase(ctx, &PurchaseRequest{UserID: "u1", Amount: 50, PaymentReference: "PAY9"})
		if err != nil || balance != 149 {
			t.Errorf("GrantPurchase(PAY9) = %d, %v; want 149", balance, err)
		}
		assertConsistent(t, s, "u1")
	})

	t.Run("refund reuses the deduct id", func(t *testing.T) {
		s, _ := newTestService(t, nil)
		if _, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeArtCard, RequestID: "R1"}); err != nil {
			t.Fatalf("Deduct() error: %v", err)
		}
		balance, err := s.Refund(ctx, &RefundRequest{UserID: "u1", Amount: 7, RequestID: "R1"})
		if err != nil || balance != 82 {
			t.Fatalf("Refund(R1) = %d, %v; want 82", balance, err)
		}
		// 失败退还与手动退还使用同一请求ID时各自生效一次
		balance, err = s.RefundFailure(ctx, "u1", model.ServiceTypeArtCard, "R1")
		if err != nil || balance != 94 {
			t.Fatalf("RefundFailure(R1) = %d, %v; want 94", balance, err)
		}
		if balance, _ = s.Refund(ctx, &RefundRequest{UserID: "u1", Amount: 7, RequestID: "R1"}); balance != 82 {
			t.Errorf("Refund(R1 retry) = %d, want first result 82", balance)
		}
		assertConsistent(t, s, "u1")
	})

	t.Run("same id for different users", func(t *testing.T) {
		s, _ := newTestService(t, nil)
		for _, userID := range []string{"u1", "u2"} {
			balance, err := s.Deduct(ctx, &DeductRequest{UserID: userID, ServiceType: model.ServiceTypeChat, RequestID: "shared"})
			if err != nil || balance != 99 {
				t.Errorf("Deduct(%s) = %d, %v; want 99", userID, balance, err)
			}
		}
		for _, userID := range []string{"u1", "u2"} {
			balance, err := s.GrantPurchase(ctx, &PurchaseRequest{UserID: userID, Amount: 10, PaymentReference: "PAY-shared"})
			if err != nil || balance != 109 {
				t.Errorf("GrantPurchase(%s) = %d, %v; want 109", userID, balance, err)
			}
		}
	})
}

// failOnInsert 让指定表的 INSERT 失败，模拟事务中途的存储错误
func failOnInsert(t *testing.T, db *gorm.DB, table string) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			tx.AddError(errors.New("insert failed"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

func TestLedgerService_PartialWriteRollsBack(t *testing.T) {
	tables := []string{"credit_transaction", "outbox_message"}
	ops := []struct {
		name string
		call func(s *LedgerService) error
	}{
		{"deduct", func(s *LedgerService) error {
			_, err := s.Deduct(context.Background(), &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeArtCard, RequestID: "d1"})
			return err
		}},
		{"refund", func(s *LedgerService) error {
			_, err := s.Refund(context.Background(), &RefundRequest{UserID: "u1", Amount: 5})
			return err
		}},
		{"purchase", func(s *LedgerService) error {
			_, err := s.GrantPurchase(context.Background(), &PurchaseRequest{UserID: "u1", Amount: 50, PaymentReference: "PAY1"})
			return err
		}},
	}

	for _, table := range tables {
		for _, op := range ops {
			t.Run(op.name+"/"+table, func(t *testing.T) {
				s, db := newTestService(t, nil)
				ctx := context.Background()
				if _, err := s.GetBalance(ctx, "u1"); err != nil {
					t.Fatalf("GetBalance() error: %v", err)
				}
				failOnInsert(t, db, table)

				if err := op.call(s); !errors.Is(err, ErrStorage) {
					t.Fatalf("error = %v, want ErrStorage", err)
				}

				account, err := s.accountRepo.GetByUserID(ctx, nil, "u1")
				if err != nil {
					t.Fatalf("GetByUserID() error: %v", err)
				}
				if account.Credits != 100 || account.UsedCredits != 0 {
					t.Errorf("account = %d credits / %d used, want 100 / 0", account.Credits, account.UsedCredits)
				}

				var transactions, messages int64
				db.Model(&model.CreditTransaction{}).Where("user_id = ?", "u1").Count(&transactions)
				db.Model(&model.OutboxMessage{}).Count(&messages)
				if transactions != 1 || messages != 1 {
					t.Errorf("transactions = %d, outbox = %d; want only the initial grant", transactions, messages)
				}
				assertConsistent(t, s, "u1")
			})
		}
	}
}

func TestLedgerService_DeductIdempotent(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	req := &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeImageEditing, RequestID: "req-1"}
	first, err := s.Deduct(ctx, req)
	if err != nil || first != 88 {
		t.Fatalf("Deduct() = %d, %v; want 88", first, err)
	}
	if _, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeChat}); err != nil {
		t.Fatalf("Deduct(chat) error: %v", err)
	}

	// 重试返回首次扣减后的余额
	retry, err := s.Deduct(ctx, req)
	if err != nil || retry != first {
		t.Errorf("Deduct(retry) = %d, %v; want %d", retry, err, first)
	}
	if balance, _ := s.GetBalance(ctx, "u1"); balance != 87 {
		t.Errorf("balance = %d, want 87", balance)
	}

	// 同一幂等键用于其他功能
	_, err = s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeChat, RequestID: "req-1"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Deduct(reused request id) error = %v, want ErrInvalidArgument", err)
	}
	assertConsistent(t, s, "u1")
}

func TestLedgerService_ConcurrentLazyInit(t *testing.T) {
	s, db := newTestService(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if balance, err := s.GetBalance(ctx, "u1"); err != nil || balance != 100 {
				t.Errorf("GetBalance() = %d, %v; want 100", balance, err)
			}
		}()
	}
	wg.Wait()

	var accounts, grants int64
	db.Model(&model.CreditAccount{}).Where("user_id = ?", "u1").Count(&accounts)
	db.Model(&model.CreditTransaction{}).Where("user_id = ? AND service_type = ?", "u1", model.ServiceTypeSystem).Count(&grants)
	if accounts != 1 || grants != 1 {
		t.Errorf("accounts = %d, initial grants = %d; want 1, 1", accounts, grants)
	}
	assertConsistent(t, s, "u1")
}

func TestLedgerService_ConcurrentDeductNeverOverdraws(t *testing.T) {
	const workers = 10
	s, _ := newTestService(t, func(cfg *config.Config) {
		cfg.Ledger.InitialCredits = (workers - 1) * 15
	})
	ctx := context.Background()

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		success      int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeImageGeneration})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("Deduct() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != workers-1 || insufficient != 1 {
		t.Errorf("success = %d, insufficient = %d; want %d, 1", success, insufficient, workers-1)
	}
	if balance, _ := s.GetBalance(ctx, "u1"); balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
	assertConsistent(t, s, "u1")
}

func TestLedgerService_ListTransactionsPagination(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if _, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeChat}); err != nil {
			t.Fatalf("Deduct() error: %v", err)
		}
	}

	seen := make(map[int64]bool)
	var previous int64
	for page := 0; page < 3; page++ {
		list, total, err := s.ListTransactions(ctx, "u1", 4, page)
		if err != nil {
			t.Fatalf("ListTransactions(page %d) error: %v", page, err)
		}
		if total != 10 {
			t.Errorf("total = %d, want 10", total)
		}
		want := 4
		if page == 2 {
			want = 2
		}
		if len(list) != want {
			t.Errorf("page %d size = %d, want %d", page, len(list), want)
		}
		for _, trans := range list {
			if seen[trans.ID] {
				t.Errorf("transaction %d returned twice", trans.ID)
			}
			seen[trans.ID] = true
			if previous != 0 && trans.ID > previous {
				t.Errorf("transaction %d listed after %d, want newest first", trans.ID, previous)
			}
			previous = trans.ID
		}
	}

	// 超出范围的页返回空
	list, _, err := s.ListTransactions(ctx, "u1", 4, 10)
	if err != nil || len(list) != 0 {
		t.Errorf("ListTransactions(page 10) = %d items, %v; want empty", len(list), err)
	}
	// 其他用户看不到
	other, total, _ := s.ListTransactions(ctx, "u2", 4, 0)
	if len(other) != 0 || total != 0 {
		t.Errorf("u2 sees %d transactions", len(other))
	}
}

func TestLedgerService_OutboxEventsWritten(t *testing.T) {
	s, db := newTestService(t, nil)
	ctx := context.Background()

	if _, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeChat}); err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}

	var messages []*model.OutboxMessage
	if err := db.Order("id ASC").Find(&messages).Error; err != nil {
		t.Fatalf("query outbox: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("outbox messages = %d, want 2", len(messages))
	}

	wantEvents := []string{model.EventCreditsGranted, model.EventCreditsDeducted}
	for i, msg := range messages {
		var event model.CreditEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if event.Event != wantEvents[i] || msg.MessageKey != "u1" || msg.Topic != "credit_event" || msg.Status != model.OutboxStatusPending {
			t.Errorf("message %d = %+v, event %+v", i, msg, event)
		}
	}
}

func TestLedgerService_StorageUnavailable(t *testing.T) {
	s, db := newTestService(t, nil)
	ctx := context.Background()

	sqlDB, _ := db.DB()
	sqlDB.Close()

	if _, err := s.GetBalance(ctx, "u1"); !errors.Is(err, ErrStorage) {
		t.Errorf("GetBalance() error = %v, want ErrStorage", err)
	}
	if _, err := s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeChat}); !errors.Is(err, ErrStorage) {
		t.Errorf("Deduct() error = %v, want ErrStorage", err)
	}
}

func TestLedgerService_LockTimeoutIsBusy(t *testing.T) {
	cfg := config.Default()
	locker := lock.NewLocalLocker()
	s := NewLedgerService(newTestDB(t), locker, cfg, nil, zerolog.Nop())

	unlock, err := locker.LockUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("LockUser() error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Deduct(ctx, &DeductRequest{UserID: "u1", ServiceType: model.ServiceTypeChat})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("Deduct() error = %v, want ErrBusy", err)
	}
}

func TestLedgerService_ReconcileUnknownUser(t *testing.T) {
	s, _ := newTestService(t, nil)
	if _, err := s.Reconcile(context.Background(), "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Reconcile() error = %v, want ErrAccountNotFound", err)
	}
}

func TestLedgerService_ReconcileDetectsDrift(t *testing.T) {
	s, db := newTestService(t, nil)
	ctx := context.Background()

	if _, err := s.GetBalance(ctx, "u1"); err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	db.Model(&model.CreditAccount{}).Where("user_id = ?", "u1").Update("credits", 999)

	result, err := s.Reconcile(ctx, "u1")
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if result.Consistent || result.TransactionSum != 100 || result.Credits != 999 {
		t.Errorf("Reconcile() = %+v, want drift detected", result)
	}
}

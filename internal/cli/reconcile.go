package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"creditledger/internal/job"
	"creditledger/internal/service"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check that balances match their transaction history",
	Long: `逐个账户校验 credits 是否等于流水金额之和。
指定 --user 时只检查该用户并输出明细；存在不一致账户时以非零状态退出。`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().String("user", "", "只检查指定用户")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")

	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeDB(db)

	ledger := service.NewLedgerService(db, nil, cfg, nil, log)
	ctx := context.Background()

	if userID != "" {
		result, err := ledger.Reconcile(ctx, userID)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if !result.Consistent {
			return fmt.Errorf("用户 %s 余额与流水不一致", userID)
		}
		return nil
	}

	summary, err := job.NewReconcileJob(db, ledger, &cfg.Job, nil, log).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checked=%d mismatched=%d duration=%s\n",
		summary.Checked, len(summary.Mismatched), summary.Duration)
	for _, r := range summary.Mismatched {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s credits=%d sum=%d\n", r.UserID, r.Credits, r.TransactionSum)
	}
	if len(summary.Mismatched) > 0 {
		return fmt.Errorf("%d 个账户余额与流水不一致", len(summary.Mismatched))
	}
	return nil
}

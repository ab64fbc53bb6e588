package cli

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger tables",
	RunE:  runMigrate,
}

// InitDB 已经执行迁移，这里只负责连接后退出
func runMigrate(cmd *cobra.Command, args []string) error {
	_, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeDB(db)

	log.Info().Msg("表结构迁移完成")
	return nil
}

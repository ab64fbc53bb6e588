package cli

import (
	"fmt"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/database"
	"creditledger/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "creditd",
	Short:         "Credit ledger service",
	Long:          `creditd 管理 AI 功能的积分：余额查询、按功能扣减、退还与购买入账，并提供对账工具。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
}

// Execute 命令行入口
func Execute() error {
	return rootCmd.Execute()
}

// bootstrap 加载配置并连接数据库，各子命令共用
func bootstrap() (*config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	db, err := database.InitDB(&cfg.Database, log)
	if err != nil {
		return nil, log, nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	return cfg, log, db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

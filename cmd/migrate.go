package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"XtendFM/config"
	"XtendFM/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "执行数据库迁移",
	Long:  `连接数据库并将表结构迁移到当前模型版本`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if err := db.Connect(cfg); err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Println("Database migration completed.")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

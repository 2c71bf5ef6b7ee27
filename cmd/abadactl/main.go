// abadactl 运维命令行：迁移、同步价格批次、清理取消订单、发放赠票、签发工作人员令牌。
package main

import (
	"fmt"
	"os"

	"abada_sales/internal/config"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "abadactl",
		Short:         "abadactl - operations tool for the abadá sales backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.SetupLogger()
			appCfg = cfg
			return nil
		},
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncLotsCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(courtesyCmd())
	rootCmd.AddCommand(staffTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// appCfg 由 PersistentPreRunE 填充。
var appCfg config.AppConfig

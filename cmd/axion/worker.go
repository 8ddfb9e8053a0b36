package main

import (
	"github.com/spf13/cobra"

	"github.com/vidinsight-labs/Axion/internal/worker"
)

// workerCmd 是隐藏的 worker 子进程入口。
// 引擎用当前二进制重新启动自己来生成 worker 进程；
// 配置通过 AXION_WORKER_SPEC 环境变量传递。
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "worker 子进程入口（由引擎自动调用）",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return worker.RunChildFromEnv()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

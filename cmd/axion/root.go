package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
    ___   _  __ ____ ____  _   __
   /   | | |/ //  _// __ \/ | / /  Axion %s
  / /| | |   / / / / / / /  |/ /
 / ___ |/   |_/ /_/ /_/ / /|  /
/_/  |_/_/|_/___/\____/_/ |_/
`
)

var (
	// 全局配置
	cfgFile string
	debug   bool
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "axion",
	Short: "本地任务执行引擎",
	Long: `axion 是一个本地任务执行引擎：接收脚本执行请求，
按 CPU/IO 类型路由到对应的 worker 进程池，异步返回结果。`,
	Version: Version,
}

func init() {
	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vidinsight-labs/Axion/api/rest"
	"github.com/vidinsight-labs/Axion/internal/config"
	"github.com/vidinsight-labs/Axion/pkg/engine"
	"github.com/vidinsight-labs/Axion/pkg/logger"
)

// runCmd 启动引擎和 HTTP 控制面
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动引擎",
	Long:  `启动任务执行引擎和 HTTP 控制面，直到收到退出信号。`,
	Example: `  # 使用默认配置启动
  axion run

  # 指定配置文件
  axion run --config config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader()
		if cfgFile != "" {
			loader = loader.WithConfigPath(cfgFile)
		}
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		if debug {
			cfg.Logging.Level = "debug"
		}

		logger.Init(&logger.Config{
			Level:    cfg.Logging.Level,
			Format:   cfg.Logging.Format,
			Output:   cfg.Logging.Output,
			FilePath: cfg.Logging.FilePath,
		})

		eng := engine.New(cfg)
		if err := eng.Start(); err != nil {
			return err
		}

		var server *rest.Server
		serverErr := make(chan error, 1)
		if cfg.Server.Enabled {
			server = rest.NewServer(eng, &rest.Config{
				Address:      cfg.Server.Address,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			})
			go func() {
				serverErr <- server.Start()
			}()
			logger.Info("control surface listening", zap.String("address", cfg.Server.Address))
		}

		fmt.Printf(Banner, Version)
		fmt.Println()

		// 等待退出信号
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-serverErr:
			if err != nil {
				logger.Error("control surface failed", zap.Error(err))
			}
		}

		if server != nil {
			_ = server.Shutdown()
		}
		return eng.Shutdown(true)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

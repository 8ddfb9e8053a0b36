package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidinsight-labs/Axion/api/rest/client"
	"github.com/vidinsight-labs/Axion/internal/codec"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

var (
	// submit 命令的 flags
	submitServer   string
	submitScript   string
	submitParams   string
	submitTaskType string
	submitWait     bool
	submitTimeout  time.Duration
)

// submitCmd 向运行中的引擎提交任务
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "提交任务",
	Long:  `通过 HTTP 控制面向运行中的引擎提交一个脚本执行任务。`,
	Example: `  # 提交 IO 任务
  axion submit --script ./scripts/fetch.js

  # 提交 CPU 任务并等待结果
  axion submit --script ./scripts/prime.js --type cpu_bound --wait

  # 携带参数
  axion submit --script ./scripts/double.js --params '{"v": 42}' --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitScript == "" {
			return fmt.Errorf("--script is required")
		}

		params := make(map[string]any)
		if submitParams != "" {
			if err := codec.Unmarshal([]byte(submitParams), &params); err != nil {
				return fmt.Errorf("invalid --params JSON: %w", err)
			}
		}

		c := client.New(submitServer)
		taskID, err := c.SubmitTask(&types.TaskEnvelope{
			ScriptPath: submitScript,
			Params:     params,
			TaskType:   submitTaskType,
		})
		if err != nil {
			return err
		}
		fmt.Printf("task submitted: %s\n", taskID)

		if !submitWait {
			return nil
		}
		res, err := c.GetResult(taskID, submitTimeout)
		if err != nil {
			return err
		}
		out, err := codec.MarshalString(res.Envelope())
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:8080", "引擎地址")
	submitCmd.Flags().StringVar(&submitScript, "script", "", "脚本路径（引擎侧）")
	submitCmd.Flags().StringVar(&submitParams, "params", "", "任务参数（JSON）")
	submitCmd.Flags().StringVar(&submitTaskType, "type", string(types.TaskTypeIOBound), "任务类型：cpu_bound 或 io_bound")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "等待并打印结果")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 30*time.Second, "等待结果的超时")

	rootCmd.AddCommand(submitCmd)
}

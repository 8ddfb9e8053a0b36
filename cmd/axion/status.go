package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vidinsight-labs/Axion/api/rest/client"
	"github.com/vidinsight-labs/Axion/internal/codec"
)

var statusServer string

// statusCmd 查询运行中引擎的状态
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查询引擎状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(statusServer)
		status, err := c.Status()
		if err != nil {
			return err
		}
		out, err := codec.MarshalString(status)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "引擎地址")
	rootCmd.AddCommand(statusCmd)
}

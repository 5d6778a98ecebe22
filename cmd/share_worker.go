/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pothole-detector/apiserver/config"
	"github.com/pothole-detector/apiserver/internal/logger"
	"github.com/pothole-detector/apiserver/internal/mq"
	"github.com/pothole-detector/apiserver/internal/share"
	"github.com/spf13/cobra"
)

// shareWorkerCmd represents the share-worker command
var shareWorkerCmd = &cobra.Command{
	Use:   "share-worker",
	Short: "Forwards shared reports to the social feed",
	Long: `Consumes share events from the configured message queue and posts
them to SHARE_FEED_URL. Usage:

	pothole share-worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logger.New(cfg.LogLevel, cfg.Env)

		if cfg.MQ.Backend == mq.BackendMemory {
			return errors.New("the memory queue is in-process; run the worker inside the server instead")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open mq: %w", err)
		}
		defer queue.Close()

		worker, err := share.NewWorker(queue, cfg.MQ.ShareChannel, cfg.Share, log)
		if err != nil {
			return err
		}
		return worker.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(shareWorkerCmd)
}

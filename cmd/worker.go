package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// workerCmd runs a worker-only process: no HTTP surface, just queued batch
// consumption. Used to scale reconciliation horizontally.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone batch worker",
	Long: `Consumes queued sync batches without serving HTTP. Multiple worker
processes can run side by side; batches are claimed through distributed
locks so no batch runs twice concurrently.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := bootstrap()
		defer a.close()

		if a.cache == nil {
			return errors.New("worker requires a reachable redis broker")
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- a.pool.Run(ctx)
		}()

		a.logger.Info("Worker started",
			zap.Int("concurrency", a.cfg.Worker.Concurrency),
			zap.Int("max_attempts", a.cfg.Worker.MaxAttempts))

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		select {
		case <-c:
			a.logger.Info("Shutting down worker...")
			cancel()
			<-done
			return nil
		case err := <-done:
			cancel()
			return err
		}
	},
}

func init() {
	RootCmd.AddCommand(workerCmd)
}

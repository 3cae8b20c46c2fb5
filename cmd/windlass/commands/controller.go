package commands

import (
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/windlass-cd/windlass/common"
	"github.com/windlass-cd/windlass/controller"
	"github.com/windlass-cd/windlass/controller/metrics"
	"github.com/windlass-cd/windlass/engine"
	"github.com/windlass-cd/windlass/repository"
	"github.com/windlass-cd/windlass/server"
	"github.com/windlass-cd/windlass/util/env"
	"github.com/windlass-cd/windlass/util/errors"
)

// NewControllerCommand returns the command running the reconciliation
// controller together with the status server.
func NewControllerCommand() *cobra.Command {
	var (
		repoPath            string
		listenAddr          string
		resyncPeriod        time.Duration
		syncRetries         int
		statusProcessors    int
		operationProcessors int
		rolloutDelay        time.Duration
	)
	command := &cobra.Command{
		Use:   "controller",
		Short: "Run the reconciliation controller",
		Run: func(c *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, err := repository.Open(repoPath)
			errors.CheckError(err)

			live := engine.NewInMemory()
			live.RolloutDelay = rolloutDelay

			var ctrl *controller.UnitController
			metricsServer := metrics.NewMetricsServer(func() int { return ctrl.QueueLen() })
			ctrl = controller.NewUnitController(repo, live, metricsServer, resyncPeriod, syncRetries)

			repo.Subscribe(func(revision string) {
				log.WithField("revision", revision).Info("Desired state advanced")
				ctrl.RequestRefreshAll()
			})
			go func() {
				if err := repo.Watch(ctx, func(revision string) {
					ctrl.RequestRefreshAll()
				}); err != nil {
					log.Warnf("Repository watcher terminated: %v", err)
				}
			}()

			statusServer := server.NewStatusServer(listenAddr, ctrl, repo, metricsServer)
			go func() {
				if err := statusServer.Run(ctx); err != nil {
					log.Errorf("Status server terminated: %v", err)
				}
			}()

			log.WithFields(log.Fields{
				"repo":   repoPath,
				"listen": listenAddr,
				"resync": resyncPeriod,
			}).Infof("windlass controller %s starting", common.GetVersion())
			ctrl.Run(ctx, statusProcessors, operationProcessors)
		},
	}
	command.Flags().StringVar(&repoPath, "repo", ".", "path to the desired-state repository")
	command.Flags().StringVar(&listenAddr, "listen", env.StringFromEnv(common.EnvStatusListenAddr, common.DefaultStatusListenAddr), "status server listen address")
	command.Flags().DurationVar(&resyncPeriod, "resync-period", env.ParseDurationFromEnv(common.EnvResyncPeriod, common.DefaultResyncPeriod, time.Second, 24*time.Hour), "period of full reconciliation of all units")
	command.Flags().IntVar(&syncRetries, "sync-retries", env.ParseNumFromEnv(common.EnvSyncRetries, common.DefaultSyncRetries, 1, 100), "consecutive convergence attempts before a unit is marked Degraded")
	command.Flags().IntVar(&statusProcessors, "status-processors", common.DefaultStatusProcessors, "number of workers comparing unit state")
	command.Flags().IntVar(&operationProcessors, "operation-processors", common.DefaultOperationProcessors, "number of workers running convergence operations")
	command.Flags().DurationVar(&rolloutDelay, "rollout-delay", 2*time.Second, "simulated delay until applied units report ready")
	return command
}

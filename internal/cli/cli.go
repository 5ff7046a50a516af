// Package cli builds the scheduler's command-line interface with Cobra:
// serve (run the HTTP API + dispatcher), submit (batch-enqueue jobs from a
// JSON file), and status (query a running instance's /admin/stats).
// Structurally this follows the teacher's internal/cli: a BuildCLI()
// constructor wiring cobra subcommands, config loading up front, and
// signal-driven graceful shutdown in the long-running command.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldkit/flowqueue/internal/config"
	"github.com/fieldkit/flowqueue/internal/executor"
	"github.com/fieldkit/flowqueue/internal/httpapi"
	"github.com/fieldkit/flowqueue/internal/metrics"
	"github.com/fieldkit/flowqueue/internal/scheduler"
	"github.com/fieldkit/flowqueue/internal/store"
	"github.com/fieldkit/flowqueue/pkg/types"

	"k8s.io/utils/clock"
)

// BuildCLI assembles the root "scheduler" command and its subcommands.
func BuildCLI(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "scheduler",
		Short:   "Multi-tenant workflow job scheduler",
		Version: version,
	}

	root.AddCommand(serveCmd(), submitCmd(), statusCmd())
	return root
}

func serveCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and dispatch loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, envPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			st := store.New()
			exec := executor.NewSimulated(cfg.ResultsDir, 0)
			collector := metrics.NewCollector()

			hooks := scheduler.Hooks{
				OnEnqueue: func(job *types.Job) {
					collector.RecordEnqueue(job.JobType)
				},
				OnDispatch: func(job *types.Job) {},
				OnComplete: func(job *types.Job) {
					latency := time.Duration(0)
					if job.StartedAt != nil && job.CompletedAt != nil {
						latency = job.CompletedAt.Sub(*job.StartedAt)
					}
					collector.RecordCompleted(job.JobType, job.State, latency.Seconds())
				},
				OnRateLimited: func(user types.UserID) {
					collector.RecordRateLimited(user)
				},
			}

			sched := scheduler.New(scheduler.Config{
				MaxWorkers:       cfg.Scheduler.MaxWorkers,
				MaxActiveUsers:   cfg.Scheduler.MaxActiveUsers,
				RateLimitPerUser: cfg.Scheduler.RateLimitPerUser,
				RateLimitWindow:  cfg.Scheduler.RateLimitWindow,
			}, st, exec, clock.RealClock{}, hooks)

			sched.Start(cfg.Scheduler.MaxWorkers)

			app := httpapi.New(sched)
			go func() {
				if err := app.Listen(cfg.ListenAddr); err != nil {
					fmt.Fprintf(os.Stderr, "http api stopped: %v\n", err)
				}
			}()

			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", collector.Handler())
			metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					fmt.Fprintf(os.Stderr, "metrics server stopped: %v\n", err)
				}
			}()

			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			stopPolling := make(chan struct{})
			go func() {
				for {
					select {
					case <-stopPolling:
						return
					case <-ticker.C:
						_, activeUsers := sched.Stats()
						collector.SetPendingJobs(sched.PendingJobs())
						collector.SetActiveUsers(activeUsers)
					}
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			fmt.Fprintln(os.Stderr, "shutting down...")
			close(stopPolling)
			_ = app.Shutdown()
			_ = metricsServer.Close()
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "path to .env overlay file")
	return cmd
}

func submitCmd() *cobra.Command {
	var filePath, userID, serverAddr string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit jobs from a JSON file to a running scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", filePath, err)
			}

			var jobs []types.JobCreate
			if err := json.Unmarshal(data, &jobs); err != nil {
				return fmt.Errorf("parsing job file: %w", err)
			}

			client := &http.Client{Timeout: 10 * time.Second}
			for _, j := range jobs {
				body, err := json.Marshal(j)
				if err != nil {
					return err
				}
				req, err := http.NewRequest(http.MethodPost, serverAddr+"/jobs", bytes.NewReader(body))
				if err != nil {
					return err
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-User-ID", userID)

				resp, err := client.Do(req)
				if err != nil {
					return fmt.Errorf("submitting job for branch %s: %w", j.BranchID, err)
				}
				resp.Body.Close()
				fmt.Printf("submitted branch=%s type=%s status=%s\n", j.BranchID, j.JobType, resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "jobs.json", "path to a JSON array of job specs")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "X-User-ID to submit as")
	cmd.Flags().StringVar(&serverAddr, "server", "http://localhost:8080", "scheduler HTTP API address")
	cmd.MarkFlagRequired("user")
	return cmd
}

func statusCmd() *cobra.Command {
	var serverAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running scheduler's admin stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(serverAddr + "/admin/stats")
			if err != nil {
				return fmt.Errorf("querying %s: %w", serverAddr, err)
			}
			defer resp.Body.Close()

			var stats map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				return err
			}
			fmt.Printf("active_workers=%v active_users=%v\n", stats["active_workers"], stats["active_users"])
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "http://localhost:8080", "scheduler HTTP API address")
	return cmd
}

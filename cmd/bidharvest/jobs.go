package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
	jobsvc "github.com/ternarybob/bidharvest/internal/services/jobs"
)

var (
	submitJobID string
	submitWait  bool

	jobsLimit  int
	jobsSource string
	jobsStatus string

	logsLevel string
	logsLimit int
)

var submitCmd = &cobra.Command{
	Use:   "submit <source-id>",
	Short: "Submit an acquisition job for a source",
	Long: `Creates a PENDING job and enqueues it. Resubmitting an --id that is still queued or
running is a no-op. With --wait the job is processed in this process and the final
status printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.Close()

		status, err := application.JobService.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		renderStatus(status)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that has not started",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.Close()

		if err := application.JobService.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s cancelled\n", args[0])
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.Close()

		jobs, err := application.JobService.Recent(cmd.Context(), &interfaces.JobListOptions{
			SourceID: jobsSource,
			Status:   models.JobStatus(jobsStatus),
			Limit:    jobsLimit,
		})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Source", "Trigger", "Status", "Attempt", "Found", "Added", "Errors", "Created"})
		for _, job := range jobs {
			t.AppendRow(table.Row{
				job.ID, job.SourceID, job.Trigger, job.Status, job.Attempt,
				job.RecordsFound, job.RecordsAdded, job.ErrorCount,
				job.CreatedAt.Format(time.RFC3339),
			})
		}
		t.Render()
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show a job's log entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.Close()

		var entries []*models.LogEntry
		if logsLevel != "" {
			entries, err = application.LogService.GetLogsByLevel(cmd.Context(), args[0], models.LogLevel(logsLevel), logsLimit)
		} else {
			entries, err = application.LogService.GetLogs(cmd.Context(), args[0], logsLimit)
		}
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Time", "Level", "Message"})
		for _, entry := range entries {
			t.AppendRow(table.Row{entry.Timestamp.Format("15:04:05.000"), entry.Level, entry.Message})
		}
		t.Render()
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitJobID, "id", "", "Job id to submit under (default: generated)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Process the job in this process and wait for it to finish")

	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to list")
	jobsCmd.Flags().StringVar(&jobsSource, "source", "", "Only jobs for this source")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Only jobs in this status (PENDING, RUNNING, COMPLETED, FAILED)")

	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Minimum level (DEBUG, INFO, WARN, ERROR)")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 100, "Maximum number of entries")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := cmd.Context()
	sourceID := args[0]

	var job *models.Job
	if submitJobID != "" {
		job, err = application.JobService.Submit(ctx, submitJobID, sourceID, models.TriggerManual)
	} else {
		job, err = application.JobService.SubmitNew(ctx, sourceID, models.TriggerManual)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Job %s submitted for source %s\n", job.ID, sourceID)

	if !submitWait {
		return nil
	}

	// Badger is single-process, so the job runs here rather than in a separate serve
	config.Scheduler.Enabled = false
	if err := application.Start(ctx); err != nil {
		return err
	}

	status, err := waitForJob(ctx, application.JobService, job.ID)
	if err != nil {
		return err
	}
	renderStatus(status)
	if status.Job.Status == models.JobStatusFailed {
		return errors.New(status.Job.ErrorMessage)
	}
	return nil
}

// waitForJob polls until the job is terminal and the queue holds no live work for it
func waitForJob(ctx context.Context, svc *jobsvc.Service, jobID string) (*jobsvc.Status, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := svc.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if status.Job.IsTerminal() && !status.QueueState.IsLive() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func renderStatus(status *jobsvc.Status) {
	job := status.Job
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Job", job.ID},
		{"Source", job.SourceID},
		{"Trigger", job.Trigger},
		{"Status", job.Status},
		{"Queue state", status.QueueState},
		{"Attempt", job.Attempt},
		{"Records found", job.RecordsFound},
		{"Records added", job.RecordsAdded},
		{"Errors", job.ErrorCount},
	})
	if job.ErrorMessage != "" {
		t.AppendRow(table.Row{"Error", job.ErrorMessage})
	}
	if job.StartedAt != nil {
		t.AppendRow(table.Row{"Started", job.StartedAt.Format(time.RFC3339)})
	}
	if job.CompletedAt != nil {
		t.AppendRow(table.Row{"Finished", job.CompletedAt.Format(time.RFC3339)})
	}
	t.Render()
}

package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hokaccha/go-prettyjson"
	"github.com/wolfeidau/riskrunner/internal/api"
	"github.com/wolfeidau/riskrunner/internal/client"
	"github.com/wolfeidau/riskrunner/internal/models"
)

type StatusCmd struct {
	ClientFlags `embed:""`

	JobID uuid.UUID `arg:"" help:"Job ID"`
	JSON  bool      `help:"Print the full job as JSON" default:"false"`
}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := s.newClient(globals)
	if err != nil {
		return err
	}

	resp, err := c.GetJob(ctx, &api.GetJobRequest{JobID: s.JobID})
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	if s.JSON {
		b, err := prettyjson.Marshal(resp.Job)
		if err != nil {
			return fmt.Errorf("failed to format job: %w", err)
		}
		fmt.Println(string(b))
		return nil
	}

	printJob(resp.Job)
	return nil
}

func printJob(job *models.BulkJob) {
	fmt.Printf("Job ID:     %s\n", job.ID)
	fmt.Printf("Type:       %s\n", job.JobType)
	fmt.Printf("Status:     %s\n", job.Status)
	fmt.Printf("Progress:   %d/%d rows (%d ok, %d failed)\n", job.ProcessedRows, job.TotalRows, job.SuccessCount, job.FailureCount)
	fmt.Printf("Owner:      %s (%s, org %s)\n", job.OwnerID, job.Tenant.Role, job.Tenant.OrgString())
	if job.CancelRequested && !job.Status.IsTerminal() {
		fmt.Println("Cancel:     requested")
	}
	if job.FailureReason != "" {
		fmt.Printf("Reason:     %s\n", job.FailureReason)
	}
	fmt.Printf("Created:    %s\n", formatTime(&job.CreatedAt))
	fmt.Printf("Started:    %s\n", formatTime(job.StartedAt))
	fmt.Printf("Completed:  %s\n", formatTime(job.CompletedAt))
	printRejections(job)
}

type ListCmd struct {
	ClientFlags `embed:""`

	Status   string `help:"Job status to filter by (pending, queued, processing, completed, failed, cancelled)" default:""`
	Page     int    `help:"Page number" default:"1"`
	PageSize int    `help:"Number of jobs per page" default:"20"`
	Watch    bool   `help:"Watch for changes (refresh every 5 seconds)" default:"false"`
}

func (l *ListCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := l.newClient(globals)
	if err != nil {
		return err
	}

	if l.Watch {
		return l.watchJobs(ctx, c)
	}

	return l.listJobs(ctx, c)
}

func (l *ListCmd) listJobs(ctx context.Context, c *client.Client) error {
	resp, err := c.ListJobs(ctx, &api.ListJobsRequest{
		Status:   l.Status,
		Page:     l.Page,
		PageSize: l.PageSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	l.printJobs(resp.Jobs, resp.LastPage)
	return nil
}

func (l *ListCmd) watchJobs(ctx context.Context, c *client.Client) error {
	fmt.Println("Watching jobs (press Ctrl+C to stop)...")
	fmt.Println()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	if err := l.listJobs(ctx, c); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Print("\033[2J\033[H") // Clear screen and move cursor to top
			fmt.Printf("Jobs (updated at %s)\n", time.Now().Format("15:04:05"))
			fmt.Println()

			if err := l.listJobs(ctx, c); err != nil {
				fmt.Printf("Error updating job list: %v\n", err)
			}
		}
	}
}

func (l *ListCmd) printJobs(jobs []*models.BulkJob, lastPage int) {
	statusFilter := "all"
	if l.Status != "" {
		statusFilter = l.Status
	}

	fmt.Printf("Jobs (status: %s, page: %d/%d):\n", statusFilter, l.Page, lastPage)

	if len(jobs) == 0 {
		fmt.Println("No jobs found.")
		return
	}

	fmt.Printf("%-36s %-10s %-11s %-18s %-36s %-20s\n",
		"Job ID", "Type", "Status", "Progress", "Owner", "Created At")
	fmt.Println(strings.Repeat("─", 136))

	for _, job := range jobs {
		progress := fmt.Sprintf("%d/%d (%d err)", job.ProcessedRows, job.TotalRows, job.FailureCount)
		fmt.Printf("%-36s %-10s %-11s %-18s %-36s %-20s\n",
			job.ID,
			job.JobType,
			job.Status,
			progress,
			job.OwnerID,
			formatTime(&job.CreatedAt))
	}

	fmt.Printf("\nTotal jobs on this page: %d\n", len(jobs))

	if lastPage > 1 && l.Page < lastPage {
		fmt.Printf("Use --page=%d to see next page\n", l.Page+1)
	}
}

type CancelCmd struct {
	ClientFlags `embed:""`

	JobID uuid.UUID `arg:"" help:"Job ID"`
}

func (cc *CancelCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := cc.newClient(globals)
	if err != nil {
		return err
	}

	resp, err := c.CancelJob(ctx, &api.CancelJobRequest{JobID: cc.JobID})
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	if resp.Job.Status.IsTerminal() {
		fmt.Printf("Job %s %s\n", resp.Job.ID, resp.Job.Status)
		return nil
	}
	fmt.Printf("Cancellation requested for job %s (%d/%d rows processed)\n", resp.Job.ID, resp.Job.ProcessedRows, resp.Job.TotalRows)
	return nil
}

type DeleteCmd struct {
	ClientFlags `embed:""`

	JobID uuid.UUID `arg:"" help:"Job ID"`
}

func (d *DeleteCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := d.newClient(globals)
	if err != nil {
		return err
	}

	if _, err := c.DeleteJob(ctx, &api.DeleteJobRequest{JobID: d.JobID}); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	fmt.Printf("Job %s deleted\n", d.JobID)
	return nil
}

type CheckAccessCmd struct {
	ClientFlags `embed:""`

	PredictionID uuid.UUID `arg:"" help:"Prediction ID"`
	Action       string    `help:"Action to check" default:"read" enum:"read,modify,delete"`
}

func (a *CheckAccessCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := a.newClient(globals)
	if err != nil {
		return err
	}

	resp, err := c.CheckAccess(ctx, &api.CheckAccessRequest{PredictionID: a.PredictionID, Action: a.Action})
	if err != nil {
		return fmt.Errorf("failed to check access: %w", err)
	}

	if resp.Allowed {
		fmt.Printf("allowed: %s on %s (%s)\n", a.Action, a.PredictionID, resp.Grant)
		return nil
	}
	fmt.Printf("denied: %s on %s: %s\n", a.Action, a.PredictionID, resp.Reason)
	return nil
}

type PurgeCmd struct {
	ClientFlags `embed:""`

	OlderThan time.Duration `help:"Purge terminal jobs finished longer ago than this" default:"720h"`
}

func (p *PurgeCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := p.newClient(globals)
	if err != nil {
		return err
	}

	resp, err := c.PurgeJobs(ctx, &api.PurgeJobsRequest{OlderThanSeconds: int64(p.OlderThan.Seconds())})
	if err != nil {
		return fmt.Errorf("failed to purge jobs: %w", err)
	}

	fmt.Printf("Purged %d jobs\n", resp.Purged)
	return nil
}

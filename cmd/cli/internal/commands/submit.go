package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wolfeidau/riskrunner/internal/api"
	"github.com/wolfeidau/riskrunner/internal/client"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/spreadsheet"
	"gopkg.in/yaml.v3"
)

type SubmitCmd struct {
	ClientFlags `embed:""`

	File         string        `arg:"" help:"CSV, XLSX or XLSM spreadsheet, or a YAML/JSON list of rows" type:"existingfile"`
	Type         string        `help:"Prediction type" default:"annual" enum:"annual,quarterly"`
	Wait         bool          `help:"Wait for the job to finish, printing progress" default:"false"`
	PollInterval time.Duration `help:"How often to poll while waiting" default:"2s"`
}

func (s *SubmitCmd) Run(ctx context.Context, globals *Globals) error {
	rows, err := loadRows(s.File)
	if err != nil {
		return fmt.Errorf("failed to load rows: %w", err)
	}

	c, err := s.newClient(globals)
	if err != nil {
		return err
	}

	fmt.Printf("Submitting %d %s rows from %s\n", len(rows), s.Type, filepath.Base(s.File))

	resp, err := c.SubmitJob(ctx, &api.SubmitJobRequest{JobType: s.Type, Rows: rows})
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	fmt.Printf("Job submitted successfully with ID: %s\n", resp.Job.ID)

	if !s.Wait {
		return nil
	}

	job, err := waitForJob(ctx, c, resp.Job, s.PollInterval)
	if err != nil {
		return err
	}
	printRejections(job)
	if job.Status != models.JobStatusCompleted {
		return fmt.Errorf("job %s finished as %s", job.ID, job.Status)
	}
	return nil
}

// loadRows reads rows from a spreadsheet, or from a YAML or JSON document
// holding a list of objects.
func loadRows(path string) ([]models.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		var rows []models.RawRow
		if err := yaml.NewDecoder(f).Decode(&rows); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return rows, nil
	default:
		return spreadsheet.Parse(filepath.Base(path), f)
	}
}

func waitForJob(ctx context.Context, c *client.Client, job *models.BulkJob, interval time.Duration) (*models.BulkJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !job.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		resp, err := c.GetJob(ctx, &api.GetJobRequest{JobID: job.ID})
		if err != nil {
			return nil, fmt.Errorf("failed to get job: %w", err)
		}
		job = resp.Job
		fmt.Printf("%-10s %d/%d rows (%d ok, %d failed)\n",
			job.Status, job.ProcessedRows, job.TotalRows, job.SuccessCount, job.FailureCount)
	}
	return job, nil
}

func printRejections(job *models.BulkJob) {
	if len(job.Errors) == 0 {
		return
	}
	fmt.Printf("\n%d rows rejected:\n", len(job.Errors))
	for _, rej := range job.Errors {
		fmt.Printf("  row %d: %s\n", rej.RowIndex, rej.Reason)
	}
}

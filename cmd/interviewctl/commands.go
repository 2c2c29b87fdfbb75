package main

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/interview-render/internal/cleanup"
	"github.com/codebuildervaibhav/interview-render/internal/config"
	"github.com/codebuildervaibhav/interview-render/internal/download"
	"github.com/codebuildervaibhav/interview-render/internal/storage"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

type statusResponse struct {
	JobID         string       `json:"job_id"`
	Status        types.Status `json:"status"`
	Stage         string       `json:"stage"`
	QueuePosition int          `json:"queue_position"`
	Occupied      int          `json:"current_processing_jobs"`
	MaxConcurrent int          `json:"max_concurrent_jobs"`
	QueueLength   int          `json:"queue_length"`
	Download      string       `json:"download"`
	Completed     *time.Time   `json:"completed"`
	Published     []string     `json:"published_urls"`
	Error         string       `json:"error"`
	ErrorKind     types.Kind   `json:"error_kind"`
	ErrorTime     *time.Time   `json:"error_time"`
}

type submitResponse struct {
	JobID         string       `json:"job_id"`
	Status        types.Status `json:"status"`
	Position      int          `json:"position"`
	EstimatedWait int          `json:"estimated_wait_minutes"`
}

type cleanupResponse struct {
	Message string         `json:"message"`
	Result  cleanup.Result `json:"result"`
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts and slot usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats types.Stats
			if err := ctx.client().get(cmd.Context(), "/api/stats", &stats); err != nil {
				return err
			}
			if ctx.asJSON {
				return writeJSON(cmd, stats)
			}

			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(types.AllStatuses))
			for _, status := range types.AllStatuses {
				rows = append(rows, []string{formatStatus(status, colorize), strconv.Itoa(stats.ByStatus[status])})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))
			fmt.Fprintf(cmd.OutOrStdout(), "Slots: %d/%d  Queue: %d  Success rate: %d%%  Total: %d\n",
				stats.OccupiedSlots, stats.MaxConcurrent, stats.QueueLength, stats.SuccessRatePct, stats.TotalJobs)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp statusResponse
			if err := ctx.client().get(cmd.Context(), "/api/status/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			if ctx.asJSON {
				return writeJSON(cmd, resp)
			}

			colorize := shouldColorize(cmd.OutOrStdout())
			rows := [][]string{
				{"Job", resp.JobID},
				{"Status", formatStatus(resp.Status, colorize)},
			}
			switch resp.Status {
			case types.StatusDone:
				rows = append(rows, []string{"Download", ctx.server + resp.Download})
				if resp.Completed != nil {
					rows = append(rows, []string{"Completed", resp.Completed.Local().Format(time.DateTime)})
				}
				for _, u := range resp.Published {
					rows = append(rows, []string{"Published", u})
				}
			case types.StatusFailed:
				rows = append(rows, []string{"Kind", string(resp.ErrorKind)}, []string{"Error", resp.Error})
				if resp.ErrorTime != nil {
					rows = append(rows, []string{"Failed at", resp.ErrorTime.Local().Format(time.DateTime)})
				}
			default:
				if resp.Stage != "" {
					rows = append(rows, []string{"Stage", resp.Stage})
				}
				if resp.QueuePosition > 0 {
					rows = append(rows, []string{"Queue position", strconv.Itoa(resp.QueuePosition)})
				}
				rows = append(rows, []string{"Slots", fmt.Sprintf("%d/%d", resp.Occupied, resp.MaxConcurrent)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var name, process, ref string

	cmd := &cobra.Command{
		Use:   "submit <video-url> <video-url> [video-url...]",
		Short: "Queue an interview render",
		Long:  "Queue an interview render. Videos alternate interviewer question and candidate answer, starting with a question.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return errors.New("--name is required")
			}
			if err := download.ValidateURLs(args); err != nil {
				return err
			}

			body := map[string]any{"videos": args, "name": name, "process": process, "external_ref": ref}
			var resp submitResponse
			if err := ctx.client().post(cmd.Context(), "/api/interview", body, &resp); err != nil {
				return err
			}
			if ctx.asJSON {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s)", resp.JobID, resp.Status)
			if resp.Position > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", position %d, about %d min", resp.Position, resp.EstimatedWait)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Candidate name shown in the title and labels")
	cmd.Flags().StringVarP(&process, "process", "p", "", "Selection process name")
	cmd.Flags().StringVar(&ref, "ref", "", "External reference echoed in status")
	return cmd
}

func newRendersCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "renders",
		Short: "List finished renders from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			var renders []storage.RenderRecord
			if err := ctx.client().get(cmd.Context(), fmt.Sprintf("/api/renders?limit=%d", limit), &renders); err != nil {
				return err
			}
			if ctx.asJSON {
				return writeJSON(cmd, renders)
			}
			if len(renders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No renders recorded")
				return nil
			}

			rows := make([][]string, 0, len(renders))
			for _, r := range renders {
				rows = append(rows, []string{
					r.JobID,
					r.CandidateLabel,
					r.Process,
					strconv.Itoa(r.InputCount),
					fmt.Sprintf("%.1f MB", float64(r.SizeBytes)/(1024*1024)),
					fmt.Sprintf("%.0fs", r.RenderSeconds),
					r.CreatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Job", "Candidate", "Process", "Clips", "Size", "Took", "Finished"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of renders to list")
	return cmd
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove temp files that belong to no running job",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp cleanupResponse
			if err := ctx.client().post(cmd.Context(), "/api/cleanup", nil, &resp); err != nil {
				return err
			}
			if ctx.asJSON {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries (%.1f MB), skipped %d live\n",
				resp.Result.Removed, float64(resp.Result.FreedBytes)/(1024*1024), resp.Result.Skipped)
			return nil
		},
	}
}

// newDriveAuthCommand runs the one-time OAuth consent the server needs
// before it can publish to Google Drive
func newDriveAuthCommand() *cobra.Command {
	var configPath, code string

	cmd := &cobra.Command{
		Use:   "drive-auth",
		Short: "Authorize Google Drive publishing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.DriveEnabled() {
				return errors.New("google_drive.credentials_file is not configured")
			}
			if code == "" {
				authURL, err := storage.DriveAuthURL(cfg.GoogleDrive.CredentialsFile)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Open this link, approve access, then rerun with --code:\n%s\n", authURL)
				return nil
			}
			if err := storage.AuthorizeDrive(cmd.Context(), cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.GoogleDrive.TokenFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Server configuration file")
	cmd.Flags().StringVar(&code, "code", "", "Authorization code from the consent page")
	return cmd
}

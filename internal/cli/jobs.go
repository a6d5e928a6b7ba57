package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/relay/internal/control"
	"github.com/vietddude/relay/internal/core/domain"
)

var (
	eventLimit int

	createFile        string
	createTargets     []string
	createContents    []string
	createCreds       []string
	createTargetsFile string
	createContentFile string
	createCredsFile   string
	createDelay       int
	createDelayValues []int
	createMentionID   string
	createMentionName string
	createKind        string
	createTargetHint  string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List all jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobs,
}

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Show the progress and credential health of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop [job_id]",
	Short: "Ask a running job to stop",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove completed jobs",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var eventsCmd = &cobra.Command{
	Use:   "events [job_id]",
	Short: "Show recent event log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEvents,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job from flags or a JSON file",
	Args:  cobra.NoArgs,
	RunE:  runCreate,
}

func init() {
	eventsCmd.Flags().IntVar(&eventLimit, "limit", 50, "number of entries to show")

	f := createCmd.Flags()
	f.StringVarP(&createFile, "file", "f", "", "JSON job request")
	f.StringSliceVar(&createTargets, "target", nil, "target id (repeatable)")
	f.StringSliceVar(&createContents, "content", nil, "content item (repeatable)")
	f.StringSliceVar(&createCreds, "credential", nil, "credential secret (repeatable)")
	f.StringVar(&createTargetsFile, "targets-file", "", "file with one target per line")
	f.StringVar(&createContentFile, "contents-file", "", "file with one content item per line")
	f.StringVar(&createCredsFile, "credentials-file", "", "file with one secret per line")
	f.IntVar(&createDelay, "delay", 0, "base delay between posts in seconds")
	f.IntSliceVar(&createDelayValues, "delay-values", nil, "exact delays to pick from, in seconds")
	f.StringVar(&createMentionID, "mention-id", "", "id to mention in every post")
	f.StringVar(&createMentionName, "mention-name", "", "display name of the mention")
	f.StringVar(&createKind, "kind", "auto", "credential kind: auto, user or page")
	f.StringVar(&createTargetHint, "target-hint", "", "page id used to resolve page credentials")

	rootCmd.AddCommand(jobsCmd, statusCmd, stopCmd, clearCmd, eventsCmd, createCmd)
}

func runJobs(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Jobs []domain.JobView `json:"jobs"`
	}
	if err := newAPIClient(apiURL).do(cmd.Context(), http.MethodGet, "/api/jobs", nil, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tSTATUS\tTARGETS\tOK\tFAILED\tCYCLES\tCREDENTIAL\tSTARTED")
	for _, j := range resp.Jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			j.ID, j.Status, len(j.Targets), j.SuccessCount, j.FailureCount, j.Cycles,
			orDash(j.CurrentCredentialName), j.StartedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	var j domain.JobView
	path := "/api/jobs/" + url.PathEscape(args[0])
	if err := newAPIClient(apiURL).do(cmd.Context(), http.MethodGet, path, nil, &j); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Job:        %s\n", j.ID)
	_, _ = fmt.Fprintf(out, "Status:     %s\n", j.Status)
	if j.EndReason != "" {
		_, _ = fmt.Fprintf(out, "Ended:      %s (%s)\n", j.EndedAt.Local().Format(time.DateTime), j.EndReason)
	}
	_, _ = fmt.Fprintf(out, "Posts:      %d ok, %d failed, %d cycles\n", j.SuccessCount, j.FailureCount, j.Cycles)
	_, _ = fmt.Fprintf(out, "Current:    %s via %s\n", orDash(j.CurrentTarget), orDash(j.CurrentCredentialName))
	if j.CurrentContent != "" {
		_, _ = fmt.Fprintf(out, "Content:    %s\n", j.CurrentContent)
	}
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREDENTIAL\tKIND\tSTATUS\tOK\tFAILED\tCOOLDOWN\tSECRET")
	for _, c := range j.Credentials {
		cooldown := "-"
		if c.CooldownUntil != nil {
			cooldown = c.CooldownUntil.Local().Format(time.TimeOnly)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			c.DisplayName, c.Kind, c.Status, c.SuccessCount, c.FailureCount, cooldown, c.Secret)
	}
	return w.Flush()
}

func runStop(cmd *cobra.Command, args []string) error {
	var resp map[string]string
	path := "/api/jobs/" + url.PathEscape(args[0]) + "/stop"
	if err := newAPIClient(apiURL).do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s\n", resp["job_id"], resp["status"])
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	var resp map[string]int
	if err := newAPIClient(apiURL).do(cmd.Context(), http.MethodDelete, "/api/jobs/completed", nil, &resp); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed job(s)\n", resp["cleared"])
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	path := "/api/events"
	if len(args) == 1 {
		path = "/api/jobs/" + url.PathEscape(args[0]) + "/events"
	}
	path += fmt.Sprintf("?limit=%d", eventLimit)

	var resp struct {
		Events []domain.Event `json:"events"`
	}
	if err := newAPIClient(apiURL).do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	for _, ev := range resp.Events {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), ev.Line())
	}
	return nil
}

func runCreate(cmd *cobra.Command, _ []string) error {
	req, err := buildCreateRequest()
	if err != nil {
		return err
	}

	var resp map[string]string
	if err := newAPIClient(apiURL).do(cmd.Context(), http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created job %s\n", resp["job_id"])
	return nil
}

// buildCreateRequest starts from --file, if given, and lets flags add to or
// override it.
func buildCreateRequest() (control.CreateJobRequest, error) {
	var req control.CreateJobRequest
	if createFile != "" {
		data, err := os.ReadFile(createFile)
		if err != nil {
			return req, fmt.Errorf("failed to read job file: %w", err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("failed to parse job file: %w", err)
		}
	}

	lists := []struct {
		dst  *[]string
		vals []string
		file string
	}{
		{&req.Targets, createTargets, createTargetsFile},
		{&req.Contents, createContents, createContentFile},
		{&req.Credentials, createCreds, createCredsFile},
	}
	for _, l := range lists {
		*l.dst = append(*l.dst, l.vals...)
		if l.file != "" {
			lines, err := readLines(l.file)
			if err != nil {
				return req, err
			}
			*l.dst = append(*l.dst, lines...)
		}
	}

	if createDelay > 0 {
		req.DelaySeconds = createDelay
	}
	if len(createDelayValues) > 0 {
		req.DelayValues = createDelayValues
	}
	if createMentionID != "" {
		req.Mention = &domain.Mention{ID: createMentionID, Name: createMentionName}
	}
	if createKind != "" && createKind != "auto" {
		req.CredentialKind = createKind
	}
	if createTargetHint != "" {
		req.TargetHint = createTargetHint
	}
	return req, nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

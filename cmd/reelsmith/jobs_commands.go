package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/config"
	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/pipeline"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Create, inspect and cancel video jobs",
	}
	jobsCmd.AddCommand(newJobsCreateCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsWatchCommand(ctx))
	return jobsCmd
}

// withStore opens the job database directly; the running server sees changes through it.
func (c *commandContext) withStore(fn func(store jobs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func newJobsCreateCommand(ctx *commandContext) *cobra.Command {
	var req pipeline.CreateRequest
	var serverURL string
	var watch bool
	cmd := &cobra.Command{
		Use:   "create <idea>",
		Short: "Submit an idea to the running server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req.Idea = strings.Join(args, " ")
			if err := req.Validate(); err != nil {
				return err
			}
			base := apiBaseURL(cfg, serverURL)
			var created struct {
				JobID string `json:"job_id"`
			}
			if err := apiCall(cmd.Context(), cfg, http.MethodPost, base+common.PathJobs, req, &created); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.JobID)
			if watch {
				return watchJob(cmd.Context(), cfg, base, created.JobID, cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "Owner id recorded on the job")
	cmd.Flags().StringVar(&req.ScriptModel, "script-model", "", "Text model override for planning and writing")
	cmd.Flags().StringVar(&req.VideoModel, "video-model", "", "Clip model override")
	cmd.Flags().StringVar(&req.CallbackURL, "callback", "", "URL notified when the job finishes")
	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default derived from server.address)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job finishes")
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var statuses []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := jobs.ListFilter{OwnerID: owner, Limit: limit}
			for _, s := range statuses {
				st := jobs.Status(strings.TrimSpace(s))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Statuses = append(filter.Statuses, st)
			}
			return ctx.withStore(func(store jobs.Store) error {
				list, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprint(out, renderJobList(list, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only jobs of this owner")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only jobs with these statuses")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	return cmd
}

func renderJobList(list []*jobs.Job, colorize bool) string {
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		rows = append(rows, []string{
			j.ID,
			statusLabel(j.Status, colorize),
			strconv.Itoa(len(j.Sections)),
			truncate(j.Idea, 40),
			j.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Sections", "Idea", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job and its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store jobs.Store) error {
				job, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(job)
				}
				fmt.Fprint(out, renderJob(job, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw job as JSON")
	return cmd
}

func renderJob(job *jobs.Job, colorize bool) string {
	var b strings.Builder
	summary := [][]string{
		{"ID", job.ID},
		{"Status", statusLabel(job.Status, colorize)},
		{"Idea", job.Idea},
		{"Persona", job.VoicePersona},
		{"Voiceover", job.VoiceoverRef},
		{"Captions", strconv.Itoa(len(job.Captions))},
		{"Video", job.VideoRef},
		{"Error", job.Error},
	}
	rows := summary[:0]
	for _, r := range summary {
		if r[1] != "" {
			rows = append(rows, r)
		}
	}
	b.WriteString(renderTable([]string{"Field", "Value"}, rows, nil))

	if len(job.Sections) > 0 {
		sectionRows := make([][]string, 0, len(job.Sections))
		for _, s := range job.Sections {
			clip := s.ClipRef
			if clip == "" && s.ClipError != "" {
				clip = "failed: " + truncate(s.ClipError, 40)
			}
			sectionRows = append(sectionRows, []string{
				s.ID, s.Title, strconv.FormatFloat(s.TargetSeconds, 'f', -1, 64), truncate(s.Script, 50), clip,
			})
		}
		b.WriteString(renderTable(
			[]string{"Section", "Title", "Seconds", "Script", "Clip"},
			sectionRows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}
	return b.String()
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store jobs.Store) error {
				job, err := jobs.Cancel(cmd.Context(), store, args[0])
				if err != nil {
					return fmt.Errorf("cancel %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", job.ID, job.Status)
				return nil
			})
		},
	}
}

func newJobsWatchCommand(ctx *commandContext) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a job's progress on the running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return watchJob(cmd.Context(), cfg, apiBaseURL(cfg, serverURL), args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default derived from server.address)")
	return cmd
}

func newModelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the clip models jobs may select",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows := [][]string{{cfg.Media.Clip.DefaultModel, "yes"}}
			for _, m := range cfg.Media.Clip.Models {
				if m != cfg.Media.Clip.DefaultModel {
					rows = append(rows, []string{m, ""})
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Model", "Default"}, rows, nil))
			return nil
		},
	}
}

// watchJob prints one line per status change until the server closes the stream.
func watchJob(ctx context.Context, cfg *config.Config, base, id string, out io.Writer) error {
	u, err := url.Parse(base + common.PathJobs + "/" + url.PathEscape(id) + "/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	if cfg.Server.APIKey != "" {
		header.Set(common.HeaderAPIKey, cfg.Server.APIKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("watch %s: server answered %s", id, resp.Status)
		}
		return fmt.Errorf("watch %s: %w", id, err)
	}
	defer func() { _ = conn.Close() }()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	colorize := shouldColorize(out)
	var last jobs.Status
	for {
		var ev struct {
			Type  string    `json:"type"`
			Job   *jobs.Job `json:"job"`
			Error string    `json:"error"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch %s: %w", id, err)
		}
		if ev.Type == "error" {
			return fmt.Errorf("watch %s: %s", id, ev.Error)
		}
		if ev.Job == nil || ev.Job.Status == last {
			continue
		}
		last = ev.Job.Status
		line := fmt.Sprintf("%s  %s", time.Now().Format(time.TimeOnly), statusLabel(last, colorize))
		switch last {
		case jobs.StatusComplete:
			line += "  " + ev.Job.VideoRef
		case jobs.StatusError:
			line += "  " + ev.Job.Error
		}
		fmt.Fprintln(out, line)
	}
}

func apiBaseURL(cfg *config.Config, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func apiCall(ctx context.Context, cfg *config.Config, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)
	if cfg.Server.APIKey != "" {
		req.Header.Set(common.HeaderAPIKey, cfg.Server.APIKey)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, endpoint, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, endpoint, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

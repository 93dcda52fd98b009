package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/northhollow/keel/pkg/types"
)

const apiTimeout = 10 * time.Second

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobs []types.JobState
			if err := apiGet("/api/jobs", &jobs); err != nil {
				return err
			}

			fmt.Printf("%-22s %-10s %-9s %-8s %s\n", "JOB", "INTERVAL", "LAST", "RUNS", "NEXT RUN")
			for _, j := range jobs {
				last := string(j.LastOutcome)
				if j.Running {
					last = "running"
				}
				fmt.Printf("%-22s %-10s %-9s %-8s %s\n",
					j.Name, j.Interval, last,
					fmt.Sprintf("%d/%d", j.Runs-j.Failures, j.Runs),
					j.NextRun.Format(time.RFC3339))
				if j.LastError != "" {
					fmt.Printf("  last error: %s\n", j.LastError)
				}
			}
			return nil
		},
	}
}

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <job>",
		Short: "Run a job now, outside its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]string
			if err := apiPost("/api/jobs/"+args[0]+"/trigger", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Triggered %s\n", args[0])
			return nil
		},
	}
}

func intervalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interval <job> <duration>",
		Short: "Change a job's schedule interval",
		Long: `Change how often a job runs, effective immediately: the next run is
rescheduled to one new interval from now. Durations use Go syntax, e.g.
30m, 1h, 12h.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := time.ParseDuration(args[1]); err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[1], err)
			}
			body := map[string]string{"interval": args[1]}
			var resp map[string]string
			if err := apiPut("/api/jobs/"+args[0]+"/interval", body, &resp); err != nil {
				return err
			}
			fmt.Printf("Job %s now runs every %s\n", args[0], args[1])
			return nil
		},
	}
}

func rankingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ranking",
		Short: "Show the current task ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.ListRanking(context.Background())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No open tasks.")
				return nil
			}

			fmt.Printf("%-5s %-8s %-36s %-12s %s\n", "RANK", "PRIORITY", "ID", "DEADLINE", "NAME")
			for i, t := range tasks {
				deadline := "-"
				if t.Deadline != nil {
					deadline = t.Deadline.Format("2006-01-02")
				}
				marker := ""
				if t.Overridden {
					marker = " (pinned)"
				}
				fmt.Printf("%-5d %-8.1f %-36s %-12s %s%s\n",
					i+1, t.Priority, t.ID, deadline, t.Name, marker)
			}
			return nil
		},
	}
}

func goalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
	}
	cmd.AddCommand(goalAddCmd(), goalListCmd(), goalPriorityCmd(), goalOverviewCmd())
	return cmd
}

func goalAddCmd() *cobra.Command {
	var level, parent, description string
	var priority float64

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			goal := &types.Goal{
				Name:        args[0],
				Level:       types.GoalLevel(level),
				ParentID:    parent,
				Priority:    priority,
				Description: description,
			}
			if err := store.UpsertGoal(context.Background(), goal); err != nil {
				return err
			}
			fmt.Printf("Added %s goal %s (%s)\n", level, goal.Name, goal.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", string(types.GoalLevelProject), "goal level: high or project")
	cmd.Flags().StringVar(&parent, "parent", "", "parent goal ID (required for project goals)")
	cmd.Flags().Float64Var(&priority, "priority", 5.0, "goal priority, 0-10")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	return cmd
}

func goalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			goals, err := store.ListGoals(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("%-36s %-8s %-8s %s\n", "ID", "LEVEL", "PRIORITY", "NAME")
			for _, g := range goals {
				fmt.Printf("%-36s %-8s %-8.1f %s\n", g.ID, g.Level, g.Priority, g.Name)
			}
			return nil
		},
	}
}

func goalPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <goal-id> <value>",
		Short: "Set a goal's priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil || value < 0 || value > 10 {
				return fmt.Errorf("priority must be a number between 0 and 10")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetGoalPriority(context.Background(), args[0], value); err != nil {
				return err
			}
			fmt.Printf("Goal %s priority set to %.1f\n", args[0], value)
			return nil
		},
	}
}

func goalOverviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview <goal-id>",
		Short: "Show a goal's latest status overview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ov, err := store.GetStatusOverview(context.Background(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Status:    %s\n", ov.Status)
			fmt.Printf("Generated: %s\n", ov.GeneratedAt.Format(time.RFC3339))
			fmt.Printf("Progress:  %d%%\n", ov.Progress)
			if ov.Summary != "" {
				fmt.Printf("\n%s\n", ov.Summary)
			}
			if len(ov.Obstacles) > 0 {
				fmt.Println("\nObstacles:")
				for _, o := range ov.Obstacles {
					fmt.Printf("  - %s\n", o)
				}
			}
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(taskAddCmd(), taskDoneCmd(), taskOverrideCmd(), taskReleaseCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	var goalID, description, deadline string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			task := &types.Task{
				GoalID:      goalID,
				Name:        args[0],
				Description: description,
				Source:      types.TaskSourceManual,
				Status:      types.TaskStatusOpen,
			}
			if deadline != "" {
				d, err := time.Parse("2006-01-02", deadline)
				if err != nil {
					return fmt.Errorf("deadline must be YYYY-MM-DD: %w", err)
				}
				task.Deadline = &d
			}
			if err := store.UpsertTask(context.Background(), task); err != nil {
				return err
			}
			fmt.Printf("Added task %s (%s)\n", task.Name, task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal to attach the task to")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline as YYYY-MM-DD")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <task-id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetTaskStatus(context.Background(), args[0], types.TaskStatusDone); err != nil {
				return err
			}
			fmt.Printf("Task %s marked done\n", args[0])
			return nil
		},
	}
}

func taskOverrideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "override <task-id> <priority>",
		Short: "Pin a task's priority",
		Long: `Pin a task to a fixed priority. The value survives every
prioritization run until released with 'keel task release'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil || value < 0 || value > 10 {
				return fmt.Errorf("priority must be a number between 0 and 10")
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetTaskOverride(context.Background(), args[0], value); err != nil {
				return err
			}
			fmt.Printf("Task %s pinned at %.1f\n", args[0], value)
			return nil
		},
	}
}

func taskReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <task-id>",
		Short: "Release a pinned task back to computed priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ClearTaskOverride(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Task %s released; next prioritization run recomputes it\n", args[0])
			return nil
		},
	}
}

func docCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Manage context documents (biography, wellbeing priorities)",
	}
	cmd.AddCommand(docSetCmd(), docShowCmd())
	return cmd
}

func docSetCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "set <kind>",
		Short: "Set a context document from a file or stdin",
		Long: fmt.Sprintf(`Replace a context document. Valid kinds are %q and %q.
Content is read from --file, or from stdin when no file is given.`,
			types.DocBiography, types.DocWellbeingPriorities),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if kind != types.DocBiography && kind != types.DocWellbeingPriorities {
				return fmt.Errorf("unknown document kind %q", kind)
			}

			var content []byte
			var err error
			if file != "" {
				content, err = os.ReadFile(file)
			} else {
				content, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.PutContextDocument(context.Background(), kind, strings.TrimSpace(string(content))); err != nil {
				return err
			}
			fmt.Printf("Updated %s\n", kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read content from this file instead of stdin")
	return cmd
}

func docShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind>",
		Short: "Print a context document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err := store.GetContextDocument(context.Background(), args[0])
			if err != nil {
				return err
			}
			if doc.Content == "" {
				fmt.Printf("No %s document set.\n", args[0])
				return nil
			}
			fmt.Println(doc.Content)
			return nil
		},
	}
}

// apiGet, apiPost and apiPut talk to a running 'keel serve' instance
func apiGet(path string, out any) error {
	return apiDo(http.MethodGet, path, nil, out)
}

func apiPost(path string, body, out any) error {
	return apiDo(http.MethodPost, path, body, out)
}

func apiPut(path string, body, out any) error {
	return apiDo(http.MethodPut, path, body, out)
}

func apiDo(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	addr := cfg.Listen
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	req, err := http.NewRequest(method, "http://"+addr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: apiTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is 'keel serve' running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

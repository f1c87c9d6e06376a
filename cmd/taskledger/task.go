package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/metalagman/taskledger/internal/ledger"
	"github.com/metalagman/taskledger/internal/model"
	"github.com/metalagman/taskledger/internal/render"
)

func taskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(taskCreateCmd(opts))
	cmd.AddCommand(taskGetCmd(opts))
	cmd.AddCommand(taskUpdateCmd(opts))
	cmd.AddCommand(taskListCmd(opts))
	cmd.AddCommand(taskTreeCmd(opts))
	cmd.AddCommand(taskTimelineCmd(opts))
	cmd.AddCommand(taskHistoryCmd(opts))
	cmd.AddCommand(taskEventCmd(opts))
	return cmd
}

func taskCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		in         ledger.NewTask
		parentID   string
		status     string
		assignee   string
		due, start string
		priority   string
		extras     []string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task, optionally under a parent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = strings.TrimSpace(strings.Join(args, " "))
			in.Status = model.Status(status)
			in.CustomFields.Priority = model.Priority(priority)
			if assignee != "" {
				in.AssigneeID = &assignee
			}
			var err error
			if in.DueDate, err = optionalTime(due); err != nil {
				return fmt.Errorf("--due: %w", err)
			}
			if in.StartDate, err = optionalTime(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if len(extras) > 0 {
				if in.CustomFields.Extra, err = parseAssignments(extras); err != nil {
					return fmt.Errorf("--extra: %w", err)
				}
			}
			return withService(cmd, opts, func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error {
				res, err := svc.CreateTask(ctx, in, parentID)
				if err != nil {
					return err
				}
				logWarnings(res)
				return out.Mutation(render.NewMutation(res))
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&parentID, "parent", "", "parent task id")
	f.StringVar(&in.Description, "description", "", "task description (markdown)")
	f.StringVar(&status, "status", "", "initial status: todo, in_progress, completed or cancelled")
	f.StringVar(&assignee, "assignee", "", "assignee id")
	f.StringVar(&due, "due", "", "due date (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&start, "start", "", "start date (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&priority, "priority", "", "priority: low, medium or high")
	f.Float64Var(&in.CustomFields.EstimatedHours, "estimate", 0, "estimated hours")
	f.StringArrayVar(&in.CustomFields.Tags, "tag", nil, "tag (repeatable)")
	f.StringVar(&in.CustomFields.Category, "category", "", "category")
	f.IntVar(&in.CustomFields.Difficulty, "difficulty", 0, "difficulty from 1 to 10")
	f.StringArrayVar(&extras, "extra", nil, "extra custom field key=value, value parsed as JSON when possible (repeatable)")
	f.StringVar(&in.CreatedBy, "actor", "", "user recorded on the created event")
	return cmd
}

func taskGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error {
				task, err := svc.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Task(task)
			})
		},
	}
}

func taskUpdateCmd(opts *rootOptions) *cobra.Command {
	var (
		sets   []string
		unsets []string
		notes  string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields by dotted path",
		Long: `Update task fields by dotted path, e.g.

  taskledger task update ID --set status=completed --set custom_fields.progress=100

Values are parsed as JSON when possible and taken as plain strings otherwise,
so quote strings that look like JSON: --set 'title="2026"'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(sets)
			if err != nil {
				return fmt.Errorf("--set: %w", err)
			}
			for _, path := range unsets {
				fields[strings.TrimSpace(path)] = nil
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to update: pass --set or --unset")
			}
			return withService(cmd, opts, func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error {
				res, err := svc.UpdateTask(ctx, args[0], fields, notes, actor)
				if err != nil {
					return err
				}
				logWarnings(res)
				return out.Mutation(render.NewMutation(res))
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field assignment path=value (repeatable)")
	cmd.Flags().StringArrayVar(&unsets, "unset", nil, "field path to clear (repeatable)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes stored with every update record")
	cmd.Flags().StringVar(&actor, "actor", "", "user making the change")
	return cmd
}

func taskListCmd(opts *rootOptions) *cobra.Command {
	var (
		filter              model.TaskFilter
		status              string
		dueAfter, dueBefore string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = model.Status(status)
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("--status: unknown status %q", status)
			}
			var err error
			if filter.DueAfter, err = optionalTime(dueAfter); err != nil {
				return fmt.Errorf("--due-after: %w", err)
			}
			if filter.DueBefore, err = optionalTime(dueBefore); err != nil {
				return fmt.Errorf("--due-before: %w", err)
			}
			return withService(cmd, opts, func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error {
				page, err := svc.ListTasks(ctx, filter)
				if err != nil {
					return err
				}
				return out.Tasks(page)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "filter by status")
	f.StringVar(&filter.AssigneeID, "assignee", "", "filter by assignee id")
	f.StringVar(&filter.ParentID, "parent", "", "list direct children of a task")
	f.BoolVar(&filter.RootsOnly, "roots", false, "list root tasks only")
	f.StringVar(&dueAfter, "due-after", "", "due on or after this date")
	f.StringVar(&dueBefore, "due-before", "", "due on or before this date")
	f.StringVar(&filter.Search, "search", "", "case-insensitive search in title and description")
	f.IntVar(&filter.Limit, "limit", 0, "page size, 0 lists every match")
	f.IntVar(&filter.Offset, "offset", 0, "number of matching tasks to skip")
	return cmd
}

func taskTreeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <id>",
		Short: "Show a task and all its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error {
				ids, err := svc.GetSubtreeIDs(ctx, args[0])
				if err != nil {
					return err
				}
				nodes := make([]render.TreeNode, 0, len(ids))
				for _, id := range ids {
					task, err := svc.GetTask(ctx, id)
					if err != nil {
						return err
					}
					depth := 0
					if len(nodes) > 0 {
						depth = max(task.Level-nodes[0].Task.Level, 0)
					}
					nodes = append(nodes, render.TreeNode{Depth: depth, Task: task})
				}
				return out.Tree(nodes)
			})
		},
	}
}

func taskTimelineCmd(opts *rootOptions) *cobra.Command {
	var (
		filter       model.TimelineFilter
		since, until string
	)
	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: "Show the timeline of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if filter.Start, err = optionalTime(since); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if filter.End, err = optionalTime(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			return withService(cmd, opts, func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error {
				events, err := svc.GetTimeline(ctx, args[0], filter)
				if err != nil {
					return err
				}
				return out.Timeline(events)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&since, "since", "", "only events at or after this time")
	f.StringVar(&until, "until", "", "only events at or before this time")
	f.StringArrayVar(&filter.EventTypes, "type", nil, "event type to include (repeatable)")
	f.BoolVar(&filter.IncludeSubtasks, "subtasks", false, "include events of all subtasks")
	f.BoolVar(&filter.MilestonesOnly, "milestones", false, "only milestone events")
	return cmd
}

func taskHistoryCmd(opts *rootOptions) *cobra.Command {
	var batchID string
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the field change history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error {
				records, err := svc.ListUpdates(ctx, args[0], batchID)
				if err != nil {
					return err
				}
				return out.Updates(records)
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "only records of this batch")
	return cmd
}

func taskEventCmd(opts *rootOptions) *cobra.Command {
	var (
		eventType   string
		description string
		actor       string
		milestone   bool
		meta        []string
	)
	cmd := &cobra.Command{
		Use:   "event <id>",
		Short: "Append a custom event to a task timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var metadata map[string]any
			if len(meta) > 0 {
				var err error
				if metadata, err = parseAssignments(meta); err != nil {
					return fmt.Errorf("--meta: %w", err)
				}
			}
			return withService(cmd, opts, func(ctx context.Context, svc *ledger.Service, out *render.Renderer) error {
				ev, err := svc.AddEvent(ctx, args[0], eventType, actor, description, metadata, milestone)
				if err != nil {
					return err
				}
				return out.Timeline([]model.TimelineEvent{ev})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&eventType, "type", "", "event type, e.g. commented")
	f.StringVar(&description, "description", "", "event description")
	f.StringVar(&actor, "actor", "", "user recorded on the event")
	f.BoolVar(&milestone, "milestone", false, "flag the event as a milestone")
	f.StringArrayVar(&meta, "meta", nil, "metadata key=value, value parsed as JSON when possible (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// parseAssignments turns key=value pairs into a map. Values that parse as
// JSON keep their JSON type; anything else is a plain string.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

func optionalTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := ledger.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

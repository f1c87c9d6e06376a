// Package sqlstore is the durable storage port backed by database/sql.
// It runs on SQLite and PostgreSQL with the same queries; only the
// placeholder syntax differs.
package sqlstore

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/metalagman/taskledger/internal/model"
	"github.com/metalagman/taskledger/internal/storage"
)

// Dialects understood by the store.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// timeLayout is fixed-width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists tasks, update records and timeline events in SQL tables.
type Store struct {
	db          *sql.DB
	dialect     string
	idsPerQuery int
}

var _ storage.Port = (*Store)(nil)

// New creates a store over an opened and migrated database.
func New(db *sql.DB, dialect string) *Store {
	return &Store{db: db, dialect: dialect, idsPerQuery: defaultIDsPerQuery}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const taskColumns = `id, title, description, status, assignee_id, created_at, updated_at,
	due_date, start_date, completed_at, parent_id, level, custom_fields`

// CreateTask inserts the task and links it into its parent in one transaction.
func (s *Store) CreateTask(ctx context.Context, task model.Task) error {
	customJSON, err := json.Marshal(task.CustomFields)
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return wrapErr("begin create task", err)
	}
	if task.ParentID != "" {
		var one int
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM tasks WHERE id=?`), task.ParentID)
		if err := row.Scan(&one); err != nil {
			_ = tx.Rollback()
			if err == sql.ErrNoRows {
				return fmt.Errorf("parent %s: %w", task.ParentID, storage.ErrNotFound)
			}
			return wrapErr("read parent", err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO tasks(`+taskColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		task.ID, task.Title, task.Description, string(task.Status), nullableStringPtr(task.AssigneeID),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
		nullableTime(task.DueDate), nullableTime(task.StartDate), nullableTime(task.CompletedAt),
		nullableString(task.ParentID), task.Level, string(customJSON)); err != nil {
		_ = tx.Rollback()
		return wrapErr("insert task", err)
	}
	if task.ParentID != "" {
		if err := s.linkChild(ctx, tx, task.ParentID, task.ID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit create task", err)
	}
	return nil
}

func (s *Store) linkChild(ctx context.Context, tx *sql.Tx, parentID, childID string) error {
	var position int
	row := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(position), 0) FROM task_children WHERE parent_id=?`), parentID)
	if err := row.Scan(&position); err != nil {
		return wrapErr("read child position", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO task_children(parent_id, child_id, position) VALUES(?, ?, ?)`),
		parentID, childID, position+1); err != nil {
		return wrapErr("link child", err)
	}
	return nil
}

// LoadTask reads one task with its ordered children.
func (s *Store) LoadTask(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), id)
	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
		}
		return model.Task{}, wrapErr("read task", err)
	}
	children, err := s.children(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	task.Children = children
	return task, nil
}

func (s *Store) children(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT child_id FROM task_children WHERE parent_id=? ORDER BY position`), parentID)
	if err != nil {
		return nil, wrapErr("query children", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan child", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate children", err)
	}
	return out, nil
}

// SaveTask updates the mutable columns of a task.
func (s *Store) SaveTask(ctx context.Context, task model.Task) error {
	customJSON, err := json.Marshal(task.CustomFields)
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE tasks SET title=?, description=?, status=?, assignee_id=?,
		updated_at=?, due_date=?, start_date=?, completed_at=?, custom_fields=? WHERE id=?`),
		task.Title, task.Description, string(task.Status), nullableStringPtr(task.AssigneeID),
		formatTime(task.UpdatedAt), nullableTime(task.DueDate), nullableTime(task.StartDate),
		nullableTime(task.CompletedAt), string(customJSON), task.ID)
	if err != nil {
		return wrapErr("update task", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrapErr("rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", task.ID, storage.ErrNotFound)
	}
	return nil
}

// ListTasks returns a page of matching tasks in creation order and the total
// match count. Search is applied after the scan so that case folding matches
// the in-memory store for non-ASCII text.
func (s *Store) ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, int, error) {
	var where []string
	var args []any
	add := func(cond string, values ...any) {
		where = append(where, cond)
		args = append(args, values...)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.AssigneeID != "" {
		add("assignee_id = ?", filter.AssigneeID)
	}
	if filter.ParentID != "" {
		add("parent_id = ?", filter.ParentID)
	}
	if filter.RootsOnly {
		add("parent_id IS NULL")
	}
	if filter.DueAfter != nil {
		add("due_date IS NOT NULL AND due_date >= ?", formatTime(*filter.DueAfter))
	}
	if filter.DueBefore != nil {
		add("due_date IS NOT NULL AND due_date <= ?", formatTime(*filter.DueBefore))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var (
		out   []model.Task
		total int
		err   error
	)
	if filter.Search != "" {
		all, err := s.scanTasks(ctx, `SELECT `+taskColumns+` FROM tasks`+cond+` ORDER BY seq`, args)
		if err != nil {
			return nil, 0, err
		}
		matched := all[:0]
		for _, task := range all {
			if filter.MatchSearch(task) {
				matched = append(matched, task)
			}
		}
		total = len(matched)
		lo, hi := filter.Window(total)
		out = matched[lo:hi]
	} else {
		if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM tasks`+cond), args...).Scan(&total); err != nil {
			return nil, 0, wrapErr("count tasks", err)
		}
		query := `SELECT ` + taskColumns + ` FROM tasks` + cond + ` ORDER BY seq` + s.pageClause(filter)
		if out, err = s.scanTasks(ctx, query, args); err != nil {
			return nil, 0, err
		}
	}

	// children are read after the cursor is closed: sqlite runs on one connection.
	for i := range out {
		children, err := s.children(ctx, out[i].ID)
		if err != nil {
			return nil, 0, err
		}
		out[i].Children = children
	}
	if out == nil {
		out = []model.Task{}
	}
	return out, total, nil
}

// pageClause renders LIMIT and OFFSET inline; both are ints.
func (s *Store) pageClause(filter model.TaskFilter) string {
	limit, offset := filter.Limit, max(filter.Offset, 0)
	switch {
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case offset == 0:
		return ""
	case s.dialect == DialectPostgres:
		return fmt.Sprintf(" OFFSET %d", offset)
	default:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
}

func (s *Store) scanTasks(ctx context.Context, query string, args []any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, wrapErr("query tasks", err)
	}
	defer rows.Close()
	var out []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, wrapErr("scan task", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate tasks", err)
	}
	return out, nil
}

// SaveUpdateRecord appends rec.
func (s *Store) SaveUpdateRecord(ctx context.Context, rec model.UpdateRecord) error {
	oldJSON, err := json.Marshal(rec.OldValue)
	if err != nil {
		return fmt.Errorf("marshal old value: %w", err)
	}
	newJSON, err := json.Marshal(rec.NewValue)
	if err != nil {
		return fmt.Errorf("marshal new value: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO task_updates(id, task_id, field_name, update_type,
		old_value, new_value, updated_by, updated_at, notes, batch_id) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.TaskID, rec.FieldName, rec.UpdateType, string(oldJSON), string(newJSON),
		rec.UpdatedBy, formatTime(rec.UpdatedAt), rec.Notes, rec.BatchID); err != nil {
		return wrapErr("insert update record", err)
	}
	return nil
}

// ListUpdateRecords returns the records of a task in append order.
func (s *Store) ListUpdateRecords(ctx context.Context, taskID, batchID string) ([]model.UpdateRecord, error) {
	query := `SELECT id, task_id, field_name, update_type, old_value, new_value, updated_by, updated_at, notes, batch_id
		FROM task_updates WHERE task_id=?`
	args := []any{taskID}
	if batchID != "" {
		query += " AND batch_id=?"
		args = append(args, batchID)
	}
	query += " ORDER BY seq"
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, wrapErr("query update records", err)
	}
	defer rows.Close()
	out := []model.UpdateRecord{}
	for rows.Next() {
		var rec model.UpdateRecord
		var oldJSON, newJSON sql.NullString
		var updatedAt string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.FieldName, &rec.UpdateType, &oldJSON, &newJSON,
			&rec.UpdatedBy, &updatedAt, &rec.Notes, &rec.BatchID); err != nil {
			return nil, wrapErr("scan update record", err)
		}
		if rec.OldValue, err = decodeJSONValue(oldJSON); err != nil {
			return nil, fmt.Errorf("parse old value: %w", err)
		}
		if rec.NewValue, err = decodeJSONValue(newJSON); err != nil {
			return nil, fmt.Errorf("parse new value: %w", err)
		}
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate update records", err)
	}
	return out, nil
}

// SaveTimelineEvent appends ev.
func (s *Store) SaveTimelineEvent(ctx context.Context, ev model.TimelineEvent) error {
	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO timeline_events(id, task_id, event_type, event_date,
		user_id, description, metadata, is_milestone) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.TaskID, ev.EventType, formatTime(ev.EventDate), ev.UserID, ev.Description,
		string(metaJSON), ev.IsMilestone); err != nil {
		return wrapErr("insert timeline event", err)
	}
	return nil
}

// defaultIDsPerQuery bounds the task ids bound in one IN list, well under
// the variable limits of SQLite and PostgreSQL.
const defaultIDsPerQuery = 500

// QueryTimelineEvents returns matching events ordered by date, then append order.
// Large id sets are queried in chunks and merged.
func (s *Store) QueryTimelineEvents(ctx context.Context, taskIDs []string, filter model.TimelineFilter) ([]model.TimelineEvent, error) {
	var (
		cond string
		args []any
	)
	if filter.Start != nil {
		cond += " AND event_date >= ?"
		args = append(args, formatTime(*filter.Start))
	}
	if filter.End != nil {
		cond += " AND event_date <= ?"
		args = append(args, formatTime(*filter.End))
	}
	if len(filter.EventTypes) > 0 {
		cond += " AND event_type IN (" + placeholders(len(filter.EventTypes)) + ")"
		for _, typ := range filter.EventTypes {
			args = append(args, typ)
		}
	}
	if filter.MilestonesOnly {
		cond += " AND is_milestone = ?"
		args = append(args, true)
	}

	var rows []seqEvent
	for chunk := range slices.Chunk(taskIDs, s.idsPerQuery) {
		got, err := s.queryEvents(ctx, chunk, cond, args)
		if err != nil {
			return nil, err
		}
		rows = append(rows, got...)
	}
	if len(taskIDs) > s.idsPerQuery {
		slices.SortStableFunc(rows, func(a, b seqEvent) int {
			if c := a.EventDate.Compare(b.EventDate); c != 0 {
				return c
			}
			return cmp.Compare(a.seq, b.seq)
		})
	}
	out := make([]model.TimelineEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.TimelineEvent)
	}
	return out, nil
}

type seqEvent struct {
	model.TimelineEvent
	seq int64
}

func (s *Store) queryEvents(ctx context.Context, taskIDs []string, cond string, condArgs []any) ([]seqEvent, error) {
	args := make([]any, 0, len(taskIDs)+len(condArgs))
	for _, id := range taskIDs {
		args = append(args, id)
	}
	args = append(args, condArgs...)
	query := `SELECT seq, id, task_id, event_type, event_date, user_id, description, metadata, is_milestone
		FROM timeline_events WHERE task_id IN (` + placeholders(len(taskIDs)) + `)` + cond +
		` ORDER BY event_date, seq`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, wrapErr("query timeline events", err)
	}
	defer rows.Close()
	var out []seqEvent
	for rows.Next() {
		var ev seqEvent
		var eventDate string
		var metaJSON sql.NullString
		if err := rows.Scan(&ev.seq, &ev.ID, &ev.TaskID, &ev.EventType, &eventDate, &ev.UserID, &ev.Description,
			&metaJSON, &ev.IsMilestone); err != nil {
			return nil, wrapErr("scan timeline event", err)
		}
		if ev.EventDate, err = parseTime(eventDate); err != nil {
			return nil, err
		}
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate timeline events", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (model.Task, error) {
	var t model.Task
	var status, createdAt, updatedAt, customJSON string
	var assigneeID, dueDate, startDate, completedAt, parentID sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &assigneeID, &createdAt, &updatedAt,
		&dueDate, &startDate, &completedAt, &parentID, &t.Level, &customJSON); err != nil {
		return model.Task{}, err
	}
	t.Status = model.Status(status)
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	t.ParentID = parentID.String
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Task{}, err
	}
	if t.DueDate, err = parseNullTime(dueDate); err != nil {
		return model.Task{}, err
	}
	if t.StartDate, err = parseNullTime(startDate); err != nil {
		return model.Task{}, err
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return model.Task{}, err
	}
	if err := json.Unmarshal([]byte(customJSON), &t.CustomFields); err != nil {
		return model.Task{}, fmt.Errorf("parse custom fields: %w", err)
	}
	t.Children = []string{}
	return t, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func decodeJSONValue(raw sql.NullString) (any, error) {
	if !raw.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

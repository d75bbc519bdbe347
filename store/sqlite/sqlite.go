// Package sqlite implements store.RecordStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"
	"nexus/store"
)

// Store implements store.RecordStore using SQLite
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store and initializes the database schema
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the database tables if they don't exist
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			color TEXT DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			completed INTEGER NOT NULL DEFAULT 0,
			priority INTEGER DEFAULT 0,
			category_id TEXT DEFAULT '',
			due_date TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT DEFAULT '',
			format TEXT DEFAULT 'text',
			tags TEXT DEFAULT '',
			images TEXT DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_category_id ON tasks(category_id);
	`

	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	_, err := s.db.Exec(schema)
	return err
}

// GetAllTasks returns all tasks
func (s *Store) GetAllTasks(ctx context.Context) ([]store.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, description, completed, priority, category_id, due_date, created_at, updated_at FROM tasks")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []store.Task
	for rows.Next() {
		var t store.Task
		var completed int
		var dueDate sql.NullString
		var created, updated string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &completed, &t.Priority, &t.CategoryID, &dueDate, &created, &updated); err != nil {
			return nil, err
		}
		t.Completed = completed != 0
		if dueDate.Valid && dueDate.String != "" {
			if d, err := time.Parse(time.RFC3339Nano, dueDate.String); err == nil {
				t.DueDate = &d
			}
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		tasks = append(tasks, t)
	}

	if tasks == nil {
		tasks = []store.Task{}
	}
	return tasks, rows.Err()
}

// GetAllNotes returns all notes
func (s *Store) GetAllNotes(ctx context.Context) ([]store.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, content, format, tags, images, created_at, updated_at FROM notes")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notes []store.Note
	for rows.Next() {
		var n store.Note
		var tags, images, created, updated string
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.Format, &tags, &images, &created, &updated); err != nil {
			return nil, err
		}
		if tags != "" {
			n.Tags = strings.Split(tags, ",")
		}
		if images != "" {
			_ = json.Unmarshal([]byte(images), &n.Images)
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		notes = append(notes, n)
	}

	if notes == nil {
		notes = []store.Note{}
	}
	return notes, rows.Err()
}

// GetAllCategories returns all categories
func (s *Store) GetAllCategories(ctx context.Context) ([]store.Category, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, color FROM categories")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var categories []store.Category
	for rows.Next() {
		var c store.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}

	if categories == nil {
		categories = []store.Category{}
	}
	return categories, rows.Err()
}

// CreateTask inserts a new task
func (s *Store) CreateTask(ctx context.Context, task *store.Task) (*store.Task, error) {
	t := *task
	if t.ID == "" {
		t.ID = store.GenerateID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = time.Now().UTC()

	var dueDate interface{}
	if t.DueDate != nil {
		dueDate = t.DueDate.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tasks (id, title, description, completed, priority, category_id, due_date, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.Title, t.Description, boolToInt(t.Completed), t.Priority, t.CategoryID, dueDate,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateNote inserts a new note
func (s *Store) CreateNote(ctx context.Context, note *store.Note) (*store.Note, error) {
	n := *note
	if n.ID == "" {
		n.ID = store.GenerateID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.UpdatedAt = time.Now().UTC()
	if n.Format == "" {
		n.Format = "text"
	}

	var images string
	if len(n.Images) > 0 {
		data, err := json.Marshal(n.Images)
		if err != nil {
			return nil, err
		}
		images = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO notes (id, title, content, format, tags, images, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		n.ID, n.Title, n.Content, n.Format, strings.Join(n.Tags, ","), images,
		n.CreatedAt.Format(time.RFC3339Nano), n.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateCategory inserts a new category
func (s *Store) CreateCategory(ctx context.Context, category *store.Category) (*store.Category, error) {
	c := *category
	if c.ID == "" {
		c.ID = store.GenerateID()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO categories (id, name, color) VALUES (?, ?, ?)", c.ID, c.Name, c.Color)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClearAll removes every record
func (s *Store) ClearAll(ctx context.Context) error {
	for _, table := range []string{"tasks", "notes", "categories"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// MergeData inserts records with unknown IDs inside one transaction and
// skips records whose IDs already exist, reporting them as conflicts.
func (s *Store) MergeData(ctx context.Context, input store.MergeInput) (*store.ImportResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result := &store.ImportResult{}

	for _, t := range input.Tasks {
		if t.ID == "" {
			t.ID = store.GenerateID()
		}
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM tasks WHERE id = ?", t.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists > 0 {
			result.TasksSkipped++
			result.Conflicts = append(result.Conflicts, t.ID)
			continue
		}

		var dueDate interface{}
		if t.DueDate != nil {
			dueDate = t.DueDate.UTC().Format(time.RFC3339Nano)
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO tasks (id, title, description, completed, priority, category_id, due_date, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			t.ID, t.Title, t.Description, boolToInt(t.Completed), t.Priority, t.CategoryID, dueDate,
			t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		result.TasksImported++
	}

	for _, n := range input.Notes {
		if n.ID == "" {
			n.ID = store.GenerateID()
		}
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM notes WHERE id = ?", n.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists > 0 {
			result.NotesSkipped++
			result.Conflicts = append(result.Conflicts, n.ID)
			continue
		}

		var images string
		if len(n.Images) > 0 {
			data, err := json.Marshal(n.Images)
			if err != nil {
				return nil, err
			}
			images = string(data)
		}
		if n.Format == "" {
			n.Format = "text"
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now().UTC()
		}
		if n.UpdatedAt.IsZero() {
			n.UpdatedAt = n.CreatedAt
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO notes (id, title, content, format, tags, images, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			n.ID, n.Title, n.Content, n.Format, strings.Join(n.Tags, ","), images,
			n.CreatedAt.Format(time.RFC3339Nano), n.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		result.NotesImported++
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Verify interface compliance at compile time
var _ store.RecordStore = (*Store)(nil)

// Package store defines the task/note record store consumed by the backup
// and sync subsystem, along with the data types shared across the application.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task represents a todo item
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    int        `json:"priority,omitempty"`
	CategoryID  string     `json:"categoryId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NoteImage is an image attached to a note, carried inline as a data URL
// so that exports remain self-contained.
type NoteImage struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// Note represents a free-form note
type Note struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	Format    string      `json:"format,omitempty"` // text, markdown, html
	Tags      []string    `json:"tags,omitempty"`
	Images    []NoteImage `json:"images,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Category groups tasks
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// MergeInput is the payload applied by MergeData.
type MergeInput struct {
	Tasks []Task `json:"tasks"`
	Notes []Note `json:"notes"`
}

// ImportResult reports what a merge actually did. IDs already present
// locally are skipped and reported as conflicts rather than renumbered;
// reconciling same-ID items from unrelated sources is left to the caller.
type ImportResult struct {
	TasksImported int      `json:"tasksImported"`
	NotesImported int      `json:"notesImported"`
	TasksSkipped  int      `json:"tasksSkipped"`
	NotesSkipped  int      `json:"notesSkipped"`
	Conflicts     []string `json:"conflicts,omitempty"`
}

// RecordStore defines the interface for task/note persistence backends
type RecordStore interface {
	GetAllTasks(ctx context.Context) ([]Task, error)
	GetAllNotes(ctx context.Context) ([]Note, error)
	GetAllCategories(ctx context.Context) ([]Category, error)

	CreateTask(ctx context.Context, task *Task) (*Task, error)
	CreateNote(ctx context.Context, note *Note) (*Note, error)
	CreateCategory(ctx context.Context, category *Category) (*Category, error)

	// ClearAll removes every record. Used by full restore before re-importing.
	ClearAll(ctx context.Context) error

	// MergeData applies an ID-preserving merge: records whose IDs are
	// unknown locally are inserted, the rest are skipped and reported.
	MergeData(ctx context.Context, input MergeInput) (*ImportResult, error)

	// Connection management
	Close() error
}

// GenerateID generates a unique identifier using UUID v4.
// Used by stores that need to assign task/note IDs locally.
func GenerateID() string {
	return uuid.New().String()
}

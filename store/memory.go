package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process RecordStore used by tests and preview paths
// that must not touch the real database.
type Memory struct {
	mu         sync.RWMutex
	tasks      map[string]Task
	notes      map[string]Note
	categories map[string]Category
}

// NewMemory creates an empty in-memory record store
func NewMemory() *Memory {
	return &Memory{
		tasks:      make(map[string]Task),
		notes:      make(map[string]Note),
		categories: make(map[string]Category),
	}
}

// GetAllTasks returns all tasks
func (m *Memory) GetAllTasks(ctx context.Context) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetAllNotes returns all notes
func (m *Memory) GetAllNotes(ctx context.Context) ([]Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	notes := make([]Note, 0, len(m.notes))
	for _, n := range m.notes {
		notes = append(notes, n)
	}
	return notes, nil
}

// GetAllCategories returns all categories
func (m *Memory) GetAllCategories(ctx context.Context) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	categories := make([]Category, 0, len(m.categories))
	for _, c := range m.categories {
		categories = append(categories, c)
	}
	return categories, nil
}

// CreateTask stores a task, assigning an ID if absent
func (m *Memory) CreateTask(ctx context.Context, task *Task) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := *task
	if t.ID == "" {
		t.ID = GenerateID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = time.Now().UTC()
	m.tasks[t.ID] = t
	return &t, nil
}

// CreateNote stores a note, assigning an ID if absent
func (m *Memory) CreateNote(ctx context.Context, note *Note) (*Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := *note
	if n.ID == "" {
		n.ID = GenerateID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.UpdatedAt = time.Now().UTC()
	m.notes[n.ID] = n
	return &n, nil
}

// CreateCategory stores a category, assigning an ID if absent
func (m *Memory) CreateCategory(ctx context.Context, category *Category) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *category
	if c.ID == "" {
		c.ID = GenerateID()
	}
	m.categories[c.ID] = c
	return &c, nil
}

// ClearAll removes every record
func (m *Memory) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks = make(map[string]Task)
	m.notes = make(map[string]Note)
	m.categories = make(map[string]Category)
	return nil
}

// MergeData inserts records with unknown IDs and skips the rest
func (m *Memory) MergeData(ctx context.Context, input MergeInput) (*ImportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &ImportResult{}
	for _, t := range input.Tasks {
		if t.ID == "" {
			t.ID = GenerateID()
		}
		if _, exists := m.tasks[t.ID]; exists {
			result.TasksSkipped++
			result.Conflicts = append(result.Conflicts, t.ID)
			continue
		}
		m.tasks[t.ID] = t
		result.TasksImported++
	}
	for _, n := range input.Notes {
		if n.ID == "" {
			n.ID = GenerateID()
		}
		if _, exists := m.notes[n.ID]; exists {
			result.NotesSkipped++
			result.Conflicts = append(result.Conflicts, n.ID)
			continue
		}
		m.notes[n.ID] = n
		result.NotesImported++
	}
	return result, nil
}

// Close closes the store
func (m *Memory) Close() error {
	return nil
}

// Verify interface compliance at compile time
var _ RecordStore = (*Memory)(nil)

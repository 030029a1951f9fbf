package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aether-sync/domain"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrNoMembership   = errors.New("no organisation membership")
	ErrMissingUser    = errors.New("missing user id")
	ErrEmptySelection = errors.New("no matching task")
)

// OrgMember is one row of the read-only membership table consumed to resolve
// which organisation a main board refers to.
type OrgMember struct {
	OrganisationID string    `gorm:"column:organisation_id" json:"organisation_id"`
	UserID         string    `gorm:"column:user_id" json:"user_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

func (OrgMember) TableName() string { return "organisation_members" }

// Storage provides access to the relational task store.
type Storage struct {
	db *gorm.DB
}

// New opens a postgres connection and ensures the task schema exists.
func New(dsn string) (*Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&domain.Task{}); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// NewWithDB wraps an existing gorm handle. Used by tests.
func NewWithDB(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

// FetchTasks returns the snapshot visible to the given scope. The main board
// is organisation-wide; every other board is limited to the owner's personal
// tasks. A personal scope without a user id matches nothing.
func (s *Storage) FetchTasks(ctx context.Context, scope domain.Scope) ([]domain.Task, error) {
	q := s.db.WithContext(ctx).Where("organisation_id = ?", scope.OrgID)
	if scope.Main() {
		q = q.Where("is_main_board = ?", true)
	} else {
		if scope.UserID == "" {
			return nil, ErrMissingUser
		}
		q = q.Where("user_id = ?", scope.UserID).Where("is_main_board = ?", false)
	}
	tasks := []domain.Task{}
	if err := q.Order("created_at").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// InsertTask persists a new task, assigning an id and defaulting the status
// and timestamps when unset.
func (s *Storage) InsertTask(ctx context.Context, t *domain.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.StatusTodo
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	return s.db.WithContext(ctx).Create(t).Error
}

// UpdateTask applies a partial column update to a single task.
func (s *Storage) UpdateTask(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&domain.Task{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteTask permanently removes a task.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&domain.Task{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// TasksInProgress lists every task currently in the progress column,
// regardless of board or organisation.
func (s *Storage) TasksInProgress(ctx context.Context) ([]domain.Task, error) {
	tasks := []domain.Task{}
	err := s.db.WithContext(ctx).Where("status = ?", domain.StatusProgress).Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// NextTodoTask returns the oldest task still in todo.
func (s *Storage) NextTodoTask(ctx context.Context) (*domain.Task, error) {
	var t domain.Task
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.StatusTodo).
		Order("created_at").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmptySelection
		}
		return nil, err
	}
	return &t, nil
}

// FetchOrganisationID resolves the organisation a user belongs to. Read-only;
// membership itself is managed elsewhere.
func (s *Storage) FetchOrganisationID(ctx context.Context, userID string) (string, error) {
	var m OrgMember
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoMembership
		}
		return "", err
	}
	return m.OrganisationID, nil
}

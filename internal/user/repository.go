package user

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Repository is the persistence boundary of the user domain.
type Repository interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByIDs(ctx context.Context, ids []int64) ([]User, error)
	List(ctx context.Context, q ListParams) ([]User, int64, error)
	// All returns every user ordered by id.
	All(ctx context.Context) ([]User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (Stats, error)
	CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error)
	Close() error
}

type Stats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
	Admins   int64 `json:"admins"`
	Regular  int64 `json:"regular"`
}

// sortColumns maps accepted sortBy values to columns.
var sortColumns = map[string]string{
	"id":         "id",
	"email":      "email",
	"role":       "role",
	"status":     "status",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

// OpenDB opens the SQLite database at path and migrates the schema. An
// empty path opens a private in-memory database.
func OpenDB(path string) (*GormRepository, error) {
	var dsn string
	if path == "" {
		// Each in-memory database gets its own name so that independent
		// repositories in one process never share rows.
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared&_time_format=sqlite", uuid.NewString())
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "userRepo.Open.MkdirAll")
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.Open")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.Open.DB")
	}
	// SQLite serializes writers anyway; one connection avoids lock errors
	// and keeps an in-memory database alive.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&User{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "userRepo.Open.AutoMigrate")
	}
	log.Debug("database opened", "path", path)
	return &GormRepository{db: db}, nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (r *GormRepository) Create(ctx context.Context, u *User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicateEmail
		}
		return errors.Wrap(err, "userRepo.Create")
	}
	return nil
}

func (r *GormRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	u := new(User)
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "userRepo.FindByID")
	}
	return u, nil
}

func (r *GormRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	u := new(User)
	err := r.db.WithContext(ctx).Where("email = ?", email).Take(u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "userRepo.FindByEmail")
	}
	return u, nil
}

func (r *GormRepository) FindByIDs(ctx context.Context, ids []int64) ([]User, error) {
	users := []User{}
	if len(ids) == 0 {
		return users, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "userRepo.FindByIDs")
	}
	return users, nil
}

func (r *GormRepository) List(ctx context.Context, q ListParams) ([]User, int64, error) {
	col, ok := sortColumns[q.SortBy]
	if !ok {
		return nil, 0, errors.Errorf("userRepo.List: unsupported sort column %q", q.SortBy)
	}
	dir := "ASC"
	if q.SortOrder == SortDesc {
		dir = "DESC"
	}

	tx := r.db.WithContext(ctx).Model(&User{})
	if q.Role != "" {
		tx = tx.Where("role = ?", q.Role)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "userRepo.List.Count")
	}
	users := []User{}
	err := tx.Order(col + " " + dir).Order("id " + dir).
		Offset((q.Page - 1) * q.Limit).Limit(q.Limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "userRepo.List.Find")
	}
	return users, total, nil
}

func (r *GormRepository) All(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := r.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "userRepo.All")
	}
	return users, nil
}

func (r *GormRepository) Update(ctx context.Context, u *User) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"email":             u.Email,
		"role":              u.Role,
		"status":            u.Status,
		"email_hash":        u.EmailHash,
		"digital_signature": u.DigitalSignature,
		"updated_at":        u.UpdatedAt,
	})
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return ErrDuplicateEmail
		}
		return errors.Wrap(res.Error, "userRepo.Update")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&User{}, id)
	if res.Error != nil {
		return errors.Wrap(res.Error, "userRepo.Delete")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.db.WithContext(ctx).Model(&User{}).Select(
		"COUNT(*) AS total, " +
			"COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) AS active, " +
			"COALESCE(SUM(CASE WHEN status = 'inactive' THEN 1 ELSE 0 END), 0) AS inactive, " +
			"COALESCE(SUM(CASE WHEN role = 'admin' THEN 1 ELSE 0 END), 0) AS admins, " +
			"COALESCE(SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END), 0) AS regular",
	).Scan(&s).Error
	if err != nil {
		return Stats{}, errors.Wrap(err, "userRepo.Stats")
	}
	return s, nil
}

// CreatedSince returns the creation times of users created at or after since.
func (r *GormRepository) CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	var users []User
	err := r.db.WithContext(ctx).Select("created_at").
		Where("created_at >= ?", since.UTC()).Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.CreatedSince")
	}
	out := make([]time.Time, len(users))
	for i, u := range users {
		out[i] = u.CreatedAt
	}
	return out, nil
}

func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return errors.Wrap(err, "userRepo.Close")
	}
	return sqlDB.Close()
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

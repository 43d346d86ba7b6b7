package user

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *GormRepository {
	t.Helper()
	repo, err := OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo Repository, email, role, status string, created time.Time) *User {
	t.Helper()
	u := &User{
		Email:            email,
		Role:             role,
		Status:           status,
		EmailHash:        "hash-" + email,
		DigitalSignature: "sig-" + email,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

var baseTime = time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)

func TestRepositoryCreateAndFind(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	u := seedUser(t, repo, "alice@example.com", RoleAdmin, StatusActive, baseTime)
	assert.Equal(t, int64(1), u.ID)

	got, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "sig-alice@example.com", got.DigitalSignature)
	assert.True(t, got.CreatedAt.Equal(baseTime), "created_at round trip: %v", got.CreatedAt)

	got, err = repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.FindByID(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryDuplicateEmail(t *testing.T) {
	repo := openTestRepo(t)
	seedUser(t, repo, "alice@example.com", RoleUser, StatusActive, baseTime)

	err := repo.Create(context.Background(), &User{Email: "alice@example.com", Role: RoleUser, Status: StatusActive})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRepositoryInMemoryDatabasesAreIsolated(t *testing.T) {
	a := openTestRepo(t)
	b := openTestRepo(t)
	seedUser(t, a, "alice@example.com", RoleUser, StatusActive, baseTime)

	all, err := b.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRepositoryFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "users.db")
	repo, err := OpenDB(path)
	require.NoError(t, err)
	seedUser(t, repo, "alice@example.com", RoleUser, StatusActive, baseTime)
	require.NoError(t, repo.Close())

	repo, err = OpenDB(path)
	require.NoError(t, err)
	defer repo.Close()
	got, err := repo.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
}

func TestRepositoryListPaginationFilterSort(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	for i := range 25 {
		role := RoleUser
		if i%5 == 0 {
			role = RoleAdmin
		}
		seedUser(t, repo, fmt.Sprintf("u%02d@example.com", i), role, StatusActive, baseTime.Add(time.Duration(i)*time.Minute))
	}

	q := ListParams{Page: 3, Limit: 10, SortBy: "created_at", SortOrder: SortDesc}
	users, total, err := repo.List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	require.Len(t, users, 5)
	assert.Equal(t, "u04@example.com", users[0].Email)
	assert.Equal(t, "u00@example.com", users[4].Email)

	q = ListParams{Page: 1, Limit: 10, Role: RoleAdmin, SortBy: "email", SortOrder: SortAsc}
	users, total, err = repo.List(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, users, 5)
	assert.Equal(t, "u00@example.com", users[0].Email)
	assert.Equal(t, "u20@example.com", users[4].Email)

	_, _, err = repo.List(ctx, ListParams{Page: 1, Limit: 10, SortBy: "email; DROP TABLE users"})
	assert.Error(t, err)
}

func TestRepositoryUpdateAndDelete(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "alice@example.com", RoleUser, StatusActive, baseTime)
	seedUser(t, repo, "bob@example.com", RoleUser, StatusActive, baseTime)

	u.Status = StatusInactive
	u.UpdatedAt = baseTime.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, u))
	got, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, got.Status)
	assert.True(t, got.UpdatedAt.Equal(baseTime.Add(time.Hour)))

	u.Email = "bob@example.com"
	assert.ErrorIs(t, repo.Update(ctx, u), ErrDuplicateEmail)

	assert.ErrorIs(t, repo.Update(ctx, &User{ID: 42, Email: "x@example.com"}), ErrNotFound)

	require.NoError(t, repo.Delete(ctx, u.ID))
	assert.ErrorIs(t, repo.Delete(ctx, u.ID), ErrNotFound)
}

func TestRepositoryStats(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	st, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	seedUser(t, repo, "a@example.com", RoleAdmin, StatusActive, baseTime)
	seedUser(t, repo, "b@example.com", RoleUser, StatusActive, baseTime)
	seedUser(t, repo, "c@example.com", RoleUser, StatusInactive, baseTime)

	st, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Active: 2, Inactive: 1, Admins: 1, Regular: 2}, st)
}

func TestRepositoryFindByIDsAndCreatedSince(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "a@example.com", RoleUser, StatusActive, baseTime.AddDate(0, 0, -3))
	seedUser(t, repo, "b@example.com", RoleUser, StatusActive, baseTime.AddDate(0, 0, -1))
	seedUser(t, repo, "c@example.com", RoleUser, StatusActive, baseTime)

	users, err := repo.FindByIDs(ctx, []int64{3, 1, 77})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].ID)
	assert.Equal(t, int64(3), users[1].ID)

	none, err := repo.FindByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	times, err := repo.CreatedSince(ctx, baseTime.AddDate(0, 0, -2))
	require.NoError(t, err)
	assert.Len(t, times, 2)
}

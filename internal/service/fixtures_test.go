package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/database"
	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type testStore struct {
	db          *gorm.DB
	tx          repository.TxManager
	users       repository.UserRepository
	activities  repository.ActivityRepository
	submissions repository.SubmissionRepository
	ledger      repository.LedgerRepository
	audit       repository.AuditRepository
	events      repository.ExternalEventRepository
	badges      repository.BadgeRepository
	aggregates  repository.AggregateRepository
	recorder    AuditService
	policy      CatalogPolicy
	validator   *validator.Validate
}

func setupStore(t *testing.T) *testStore {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(context.Background(), db))

	validate := validator.New(validator.WithRequiredStructEnabled())
	auditRepo := repository.NewAuditRepository(db)

	return &testStore{
		db:          db,
		tx:          repository.NewTxManager(db),
		users:       repository.NewUserRepository(db),
		activities:  repository.NewActivityRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		ledger:      repository.NewLedgerRepository(db),
		audit:       auditRepo,
		events:      repository.NewExternalEventRepository(db),
		badges:      repository.NewBadgeRepository(db),
		aggregates:  repository.NewAggregateRepository(db),
		recorder:    NewAuditService(auditRepo, validate, testLogger()),
		policy:      NewCatalogPolicy(0.20, 1000),
		validator:   validate,
	}
}

func (s *testStore) createUser(t *testing.T, name, role, cohort, school string) models.User {
	t.Helper()
	user := models.User{
		Name:   name,
		Email:  name + "@example.org",
		Role:   role,
		Cohort: cohort,
		School: school,
	}
	require.NoError(t, s.users.Create(context.Background(), &user))
	return user
}

func (s *testStore) createSubmission(t *testing.T, userID uint, activity, payload string) models.Submission {
	t.Helper()
	if payload == "" {
		payload = "{}"
	}
	submission := models.Submission{
		UserID:       userID,
		ActivityCode: activity,
		Status:       models.SubmissionStatusPending,
		Visibility:   models.VisibilityPrivate,
		Payload:      []byte(payload),
	}
	require.NoError(t, s.submissions.Create(context.Background(), &submission))
	return submission
}

func (s *testStore) appendLedger(t *testing.T, userID uint, activity string, delta int, at time.Time) models.PointsLedgerEntry {
	t.Helper()
	entry := models.PointsLedgerEntry{
		UserID:       userID,
		ActivityCode: activity,
		DeltaPoints:  delta,
		Source:       models.LedgerSourceManual,
		EventTime:    at.UTC(),
	}
	require.NoError(t, s.ledger.Append(context.Background(), &entry))
	return entry
}

func (s *testStore) countLedger(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, s.db.Model(&models.PointsLedgerEntry{}).Count(&count).Error)
	return count
}

func (s *testStore) countAudit(t *testing.T, action string) int64 {
	t.Helper()
	var count int64
	query := s.db.Model(&models.AuditLogEntry{})
	if action != "" {
		query = query.Where("action = ?", action)
	}
	require.NoError(t, query.Count(&count).Error)
	return count
}

func asUser(user models.User) context.Context {
	return access.WithContext(context.Background(), access.Context{
		UserID: user.ID,
		Role:   access.ParseRole(user.Role),
		Cohort: user.Cohort,
		School: user.School,
	})
}

// failingRecorder rejects every audit write.
type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *gorm.DB, AuditEntry) (models.AuditLogEntry, error) {
	return models.AuditLogEntry{}, errors.New("audit store unavailable")
}

// recordingEvents captures published ledger events.
type recordingEvents struct {
	published []LedgerEvent
}

func (r *recordingEvents) Publish(_ context.Context, events ...LedgerEvent) {
	r.published = append(r.published, events...)
}

func (r *recordingEvents) Subscribe(context.Context, func(LedgerEvent)) error {
	return nil
}

func auditFilterAll() repository.AuditFilter {
	return repository.AuditFilter{}
}

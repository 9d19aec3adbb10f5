package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/elevate-api/internal/access"
	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/dto"
	"github.com/noah-isme/elevate-api/internal/models"
	"github.com/noah-isme/elevate-api/internal/observability"
	"github.com/noah-isme/elevate-api/internal/repository"
)

const completionEventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["activity_code"],
  "properties": {
    "id": {"type": "string", "maxLength": 191},
    "source": {"type": "string", "maxLength": 64},
    "contact_id": {"type": "string", "maxLength": 128},
    "email": {"type": "string", "maxLength": 255},
    "activity_code": {"type": "string", "enum": ["LEARN", "EXPLORE", "AMPLIFY", "PRESENT", "SHINE"]},
    "completed_at": {"type": "string", "format": "date-time"},
    "payload": {"type": "object"}
  },
  "anyOf": [
    {"required": ["contact_id"]},
    {"required": ["email"]}
  ]
}`

// errAlreadyProcessed rolls back a transaction that lost the race for an event.
var errAlreadyProcessed = errors.New("external event already processed")

// IngestService converts external completion events into at most one ledger entry each.
type IngestService interface {
	Parse(raw []byte) (dto.CompletionEvent, error)
	Ingest(ctx context.Context, event dto.CompletionEvent) (dto.IngestResult, error)
	ListUnmatched(ctx context.Context, limit int) ([]dto.ExternalEventResponse, error)
	Reconcile(ctx context.Context, eventID string, req dto.ReconcileRequest) (dto.IngestResult, error)
}

// IngestDependencies groups the collaborators of the ingestor.
type IngestDependencies struct {
	Tx          repository.TxManager
	Events      repository.ExternalEventRepository
	Users       repository.UserRepository
	Activities  repository.ActivityRepository
	Submissions repository.SubmissionRepository
	Ledger      repository.LedgerRepository
	Audit       AuditRecorder
	Policy      PointsPolicy
	Publisher   LedgerEventPublisher
	Validator   *validator.Validate
	Logger      zerolog.Logger
}

type ingestService struct {
	tx          repository.TxManager
	events      repository.ExternalEventRepository
	users       repository.UserRepository
	activities  repository.ActivityRepository
	submissions repository.SubmissionRepository
	ledger      repository.LedgerRepository
	audit       AuditRecorder
	policy      PointsPolicy
	publisher   LedgerEventPublisher
	validator   *validator.Validate
	schema      *jsonschema.Schema
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewIngestService constructs the idempotent event ingestor.
func NewIngestService(deps IngestDependencies) IngestService {
	return &ingestService{
		tx:          deps.Tx,
		events:      deps.Events,
		users:       deps.Users,
		activities:  deps.Activities,
		submissions: deps.Submissions,
		ledger:      deps.Ledger,
		audit:       deps.Audit,
		policy:      deps.Policy,
		publisher:   ledgerEventsOrNoop(deps.Publisher),
		validator:   deps.Validator,
		schema:      jsonschema.MustCompileString("completion_event.json", completionEventSchema),
		logger:      deps.Logger.With().Str("component", "ingest_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/elevate-api/internal/service/ingest"),
		now:         time.Now,
	}
}

// Parse validates a raw webhook body against the completion event schema.
func (s *ingestService) Parse(raw []byte) (dto.CompletionEvent, error) {
	if detected := mimetype.Detect(raw); !detected.Is("application/json") {
		return dto.CompletionEvent{}, apperror.Validation("event payload must be JSON, got %s", detected.String())
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var document interface{}
	if err := decoder.Decode(&document); err != nil {
		return dto.CompletionEvent{}, apperror.Validation("malformed event payload: %v", err)
	}
	if err := s.schema.Validate(document); err != nil {
		return dto.CompletionEvent{}, apperror.Validation("event payload does not match schema: %v", err)
	}

	var event dto.CompletionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return dto.CompletionEvent{}, apperror.Validation("malformed event payload: %v", err)
	}
	return event, nil
}

func (s *ingestService) Ingest(ctx context.Context, event dto.CompletionEvent) (dto.IngestResult, error) {
	event = normalizeEvent(event)
	eventID := DeriveEventKey(event)

	ctx, span := s.tracer.Start(ctx, "ingest.event")
	span.SetAttributes(
		attribute.String("ingest.event_id", eventID),
		attribute.String("ingest.activity_code", event.ActivityCode),
	)
	defer span.End()

	if err := s.validator.Struct(event); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.IngestResult{}, apperror.FromValidator(err)
	}

	existing, err := s.events.Get(ctx, eventID)
	switch {
	case err == nil && existing.IsProcessed():
		span.SetAttributes(attribute.Bool("ingest.duplicate", true))
		return s.priorResult(ctx, existing)
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		span.RecordError(err)
		return dto.IngestResult{}, err
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return dto.IngestResult{}, err
	}
	record := models.ExternalEvent{ID: eventID, Payload: datatypes.JSON(raw), ReceivedAt: s.now().UTC()}

	user, matched, err := s.matchUser(ctx, event)
	if err != nil {
		span.RecordError(err)
		return dto.IngestResult{}, err
	}
	if !matched {
		if err := s.events.Save(ctx, &record); err != nil {
			span.RecordError(err)
			return dto.IngestResult{}, err
		}
		observability.WebhookEvents().WithLabelValues(dto.IngestStatusUnmatched).Inc()
		s.logger.Info().Str("event_id", eventID).Msg("external event held for reconciliation")
		return dto.IngestResult{EventID: eventID, Status: dto.IngestStatusUnmatched}, nil
	}

	result, err := s.process(ctx, record, event, user, access.System(), models.AuditWebhookProcessed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest_failed")
	}
	return result, err
}

func (s *ingestService) ListUnmatched(ctx context.Context, limit int) ([]dto.ExternalEventResponse, error) {
	if _, err := access.RequireMinimumRole(ctx, access.RoleAdmin); err != nil {
		return nil, err
	}

	events, err := s.events.ListUnmatched(ctx, limit)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.ExternalEventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, dto.ExternalEventResponse{
			ID:          event.ID,
			Payload:     json.RawMessage(event.Payload),
			UserMatch:   event.UserMatch,
			ProcessedAt: event.ProcessedAt,
			ReceivedAt:  event.ReceivedAt,
		})
	}
	return responses, nil
}

// Reconcile processes a held event against an explicitly chosen user.
func (s *ingestService) Reconcile(ctx context.Context, eventID string, req dto.ReconcileRequest) (dto.IngestResult, error) {
	actor, err := access.RequireMinimumRole(ctx, access.RoleAdmin)
	if err != nil {
		return dto.IngestResult{}, err
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.IngestResult{}, apperror.FromValidator(err)
	}

	record, err := s.events.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.IngestResult{}, apperror.NotFound("external event %s not found", eventID)
		}
		return dto.IngestResult{}, err
	}
	if record.IsProcessed() {
		return dto.IngestResult{}, apperror.Conflict("external event %s was already processed", eventID)
	}

	var event dto.CompletionEvent
	if err := json.Unmarshal(record.Payload, &event); err != nil {
		return dto.IngestResult{}, apperror.Validation("stored event %s is malformed", eventID)
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.IngestResult{}, apperror.NotFound("user %d not found", req.UserID)
		}
		return dto.IngestResult{}, err
	}

	return s.process(ctx, record, event, user, actor, models.AuditWebhookReconciled)
}

// process applies the event inside one transaction. A lost race on the event row
// or the ledger's external id constraint resolves to the prior result.
func (s *ingestService) process(ctx context.Context, record models.ExternalEvent, event dto.CompletionEvent, user models.User, actor access.Context, action string) (dto.IngestResult, error) {
	activity, err := s.activities.Get(ctx, event.ActivityCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.IngestResult{}, apperror.NotFound("activity %s not found", event.ActivityCode)
		}
		return dto.IngestResult{}, err
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return dto.IngestResult{}, apperror.Validation("malformed event payload")
	}
	if event.Payload == nil {
		payload = []byte("{}")
	}

	points, err := s.policy.BasePoints(activity, datatypes.JSON(payload))
	if err != nil {
		return dto.IngestResult{}, err
	}

	now := s.now().UTC()
	eventTime := event.CompletedAt
	if eventTime.IsZero() {
		eventTime = now
	}

	var (
		submission models.Submission
		entry      models.PointsLedgerEntry
	)
	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)
		if err := events.Save(ctx, &record); err != nil {
			return err
		}

		marked, err := events.MarkProcessed(ctx, record.ID, user.ID, now)
		if err != nil {
			return err
		}
		if !marked {
			return errAlreadyProcessed
		}

		submission = models.Submission{
			UserID:       user.ID,
			ActivityCode: activity.Code,
			Status:       models.SubmissionStatusApproved,
			Visibility:   models.VisibilityPublic,
			Payload:      datatypes.JSON(payload),
		}
		if err := s.submissions.WithTx(tx).Create(ctx, &submission); err != nil {
			return err
		}

		externalID := record.ID
		entry = models.PointsLedgerEntry{
			UserID:          user.ID,
			ActivityCode:    activity.Code,
			DeltaPoints:     points,
			Source:          models.LedgerSourceWebhook,
			SubmissionID:    &submission.ID,
			ExternalEventID: &externalID,
			EventTime:       eventTime,
		}
		if err := s.ledger.WithTx(tx).Append(ctx, &entry); err != nil {
			if repository.IsUniqueViolation(err) {
				return errAlreadyProcessed
			}
			return err
		}

		_, err = s.audit.Record(ctx, tx, AuditEntry{
			Actor:    actor,
			Action:   action,
			TargetID: record.ID,
			Meta: map[string]interface{}{
				"external_event_id": record.ID,
				"user_id":           user.ID,
				"submission_id":     submission.ID,
				"ledger_entry_id":   entry.ID,
				"activity_code":     activity.Code,
				"points_awarded":    points,
				"source":            event.Source,
			},
		})
		return err
	})
	if errors.Is(err, errAlreadyProcessed) {
		s.logger.Info().Str("event_id", record.ID).Msg("external event processed concurrently, returning prior result")
		return s.priorResultByID(ctx, record.ID)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", record.ID).Msg("failed to ingest external event")
		return dto.IngestResult{}, err
	}

	observability.WebhookEvents().WithLabelValues(dto.IngestStatusProcessed).Inc()
	if points > 0 {
		observability.PointsAwarded().WithLabelValues(models.LedgerSourceWebhook).Add(float64(points))
	}
	s.publisher.Publish(ctx, LedgerEvent{
		UserID:       user.ID,
		ActivityCode: activity.Code,
		DeltaPoints:  points,
		LedgerSource: models.LedgerSourceWebhook,
		EntryID:      entry.ID,
	})

	userID := user.ID
	submissionID := submission.ID
	entryID := entry.ID
	return dto.IngestResult{
		EventID:       record.ID,
		Status:        dto.IngestStatusProcessed,
		UserID:        &userID,
		SubmissionID:  &submissionID,
		LedgerEntryID: &entryID,
		Points:        points,
		ProcessedAt:   &now,
	}, nil
}

func (s *ingestService) priorResultByID(ctx context.Context, eventID string) (dto.IngestResult, error) {
	record, err := s.events.Get(ctx, eventID)
	if err != nil {
		return dto.IngestResult{}, err
	}
	return s.priorResult(ctx, record)
}

// priorResult rebuilds the outcome of an already processed event without side effects.
func (s *ingestService) priorResult(ctx context.Context, record models.ExternalEvent) (dto.IngestResult, error) {
	observability.WebhookEvents().WithLabelValues(dto.IngestStatusDuplicate).Inc()

	result := dto.IngestResult{
		EventID:     record.ID,
		Status:      dto.IngestStatusDuplicate,
		UserID:      record.UserMatch,
		ProcessedAt: record.ProcessedAt,
	}

	entry, err := s.ledger.FindByExternalEventID(ctx, record.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return result, nil
		}
		return dto.IngestResult{}, err
	}

	entryID := entry.ID
	result.LedgerEntryID = &entryID
	result.SubmissionID = entry.SubmissionID
	result.Points = entry.DeltaPoints
	return result, nil
}

// matchUser resolves the event's user by external contact id, then by case-insensitive email.
func (s *ingestService) matchUser(ctx context.Context, event dto.CompletionEvent) (models.User, bool, error) {
	if event.ContactID != "" {
		user, err := s.users.FindByExternalContactID(ctx, event.ContactID)
		if err == nil {
			return user, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, false, err
		}
	}

	if event.Email != "" {
		user, err := s.users.FindByEmail(ctx, event.Email)
		if err == nil {
			return user, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, false, err
		}
	}

	return models.User{}, false, nil
}

func normalizeEvent(event dto.CompletionEvent) dto.CompletionEvent {
	event.ID = strings.TrimSpace(event.ID)
	event.Source = strings.ToLower(strings.TrimSpace(event.Source))
	event.ContactID = strings.TrimSpace(event.ContactID)
	event.Email = strings.TrimSpace(event.Email)
	event.ActivityCode = strings.ToUpper(strings.TrimSpace(event.ActivityCode))
	if !event.CompletedAt.IsZero() {
		event.CompletedAt = event.CompletedAt.UTC()
	}
	return event
}

// DeriveEventKey prefers the explicit event id and otherwise hashes the fields
// that identify one completion.
func DeriveEventKey(event dto.CompletionEvent) string {
	if event.ID != "" {
		return event.ID
	}
	composite := fmt.Sprintf("%s|%s|%s|%s|%d",
		event.Source,
		event.ContactID,
		strings.ToLower(event.Email),
		event.ActivityCode,
		event.CompletedAt.Unix(),
	)
	sum := sha256.Sum256([]byte(composite))
	return "derived-" + hex.EncodeToString(sum[:])
}

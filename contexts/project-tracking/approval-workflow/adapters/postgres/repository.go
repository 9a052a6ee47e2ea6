package postgresadapter

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"atlas/contexts/project-tracking/approval-workflow/domain/entities"
	domainerrors "atlas/contexts/project-tracking/approval-workflow/domain/errors"
	"atlas/contexts/project-tracking/approval-workflow/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
)

// readSnapshotOpts pins multi-statement reads to one repeatable-read snapshot.
// A request row and its decision ledger must always come from the same
// committed state; with per-statement snapshots a reader could see a
// majority-complete ledger next to a stale pending status.
var readSnapshotOpts = &sql.TxOptions{
	Isolation: sql.LevelRepeatableRead,
	ReadOnly:  true,
}

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateRequestWithRecipients(
	ctx context.Context,
	request entities.ApprovalRequest,
	decisions []entities.RecipientDecision,
) error {
	requestRow := requestModelFromEntity(request)
	decisionRows := make([]recipientDecisionModel, 0, len(decisions))
	for _, decision := range decisions {
		decisionRows = append(decisionRows, decisionModelFromEntity(decision))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&requestRow).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrRepositoryInvariantBroke
			}
			return err
		}
		if err := tx.Create(&decisionRows).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrRepositoryInvariantBroke
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrRepositoryInvariantBroke) {
			return err
		}
		return r.logError("approval_repo_create_request_failed", err,
			"request_id", request.RequestID,
			"requested_by", request.RequestedBy,
		)
	}
	return nil
}

func (r *Repository) GetRequestWithDecisions(ctx context.Context, requestID string) (ports.RequestWithDecisions, error) {
	var result ports.RequestWithDecisions
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var requestRow approvalRequestModel
		if err := tx.Where("id = ?", requestID).First(&requestRow).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrRequestNotFound
			}
			return err
		}
		decisions, err := r.loadDecisions(tx, requestID)
		if err != nil {
			return err
		}
		result = ports.RequestWithDecisions{
			Request:   requestRow.toEntity(),
			Decisions: decisions,
		}
		return nil
	}, readSnapshotOpts)
	if err != nil {
		if errors.Is(err, domainerrors.ErrRequestNotFound) {
			return ports.RequestWithDecisions{}, err
		}
		return ports.RequestWithDecisions{}, r.logError("approval_repo_get_request_failed", err, "request_id", requestID)
	}
	return result, nil
}

func (r *Repository) ListRequestsForUser(ctx context.Context, userID int64) ([]ports.RequestWithDecisions, error) {
	var results []ports.RequestWithDecisions
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var requestRows []approvalRequestModel
		err := tx.
			Where(
				"requested_by = ? OR id IN (?)",
				userID,
				tx.Model(&recipientDecisionModel{}).Select("request_id").Where("user_id = ?", userID),
			).
			Order("created_at DESC").
			Find(&requestRows).
			Error
		if err != nil {
			return err
		}
		if len(requestRows) == 0 {
			return nil
		}

		requestIDs := make([]string, 0, len(requestRows))
		for _, row := range requestRows {
			requestIDs = append(requestIDs, row.ID)
		}
		var decisionRows []recipientDecisionModel
		if err := tx.
			Where("request_id IN ?", requestIDs).
			Order("request_id, user_id").
			Find(&decisionRows).
			Error; err != nil {
			return err
		}
		decisionsByRequest := make(map[string][]entities.RecipientDecision, len(requestRows))
		for _, row := range decisionRows {
			decisionsByRequest[row.RequestID] = append(decisionsByRequest[row.RequestID], row.toEntity())
		}

		results = make([]ports.RequestWithDecisions, 0, len(requestRows))
		for _, row := range requestRows {
			results = append(results, ports.RequestWithDecisions{
				Request:   row.toEntity(),
				Decisions: decisionsByRequest[row.ID],
			})
		}
		return nil
	}, readSnapshotOpts)
	if err != nil {
		return nil, r.logError("approval_repo_list_requests_failed", err, "user_id", userID)
	}
	return results, nil
}

// CastDecision serializes the vote against the request row with an exclusive
// row lock, so precondition checks, the decision write, the ledger re-read
// and the potential status transition form one atomic unit. Serialization or
// deadlock failures surface as ErrStorageConflict for the use case to retry.
func (r *Repository) CastDecision(ctx context.Context, requestID string, apply ports.VoteFunc) (ports.RequestWithDecisions, error) {
	var result ports.RequestWithDecisions
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var requestRow approvalRequestModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", requestID).
			First(&requestRow).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrRequestNotFound
			}
			return err
		}

		decisions, err := r.loadDecisions(tx, requestID)
		if err != nil {
			return err
		}

		mutation, err := apply(requestRow.toEntity(), decisions)
		if err != nil {
			return err
		}

		decisionUpdate := tx.Model(&recipientDecisionModel{}).
			Where("request_id = ? AND user_id = ? AND decision IS NULL", requestID, mutation.Decision.UserID).
			Updates(map[string]any{
				"decision":    decisionColumnValue(mutation.Decision.Decision),
				"decision_at": mutation.Decision.DecisionAt,
			})
		if decisionUpdate.Error != nil {
			return decisionUpdate.Error
		}
		if decisionUpdate.RowsAffected == 0 {
			// The row lock precludes a lost update here; an empty update
			// means the ledger disagrees with what apply just observed.
			return domainerrors.ErrRepositoryInvariantBroke
		}

		updatedAt := time.Now().UTC()
		if mutation.Decision.DecisionAt != nil {
			updatedAt = mutation.Decision.DecisionAt.UTC()
		}
		requestUpdates := map[string]any{"updated_at": updatedAt}
		if mutation.Resolution != nil {
			requestUpdates["status"] = string(mutation.Resolution.Decision.TerminalStatus())
			requestUpdates["resolved_decision"] = string(mutation.Resolution.Decision)
			requestUpdates["resolved_at"] = mutation.Resolution.ResolvedAt.UTC()
			requestUpdates["updated_at"] = mutation.Resolution.ResolvedAt.UTC()
		}
		requestUpdate := tx.Model(&approvalRequestModel{}).
			Where("id = ? AND status = ?", requestID, string(entities.StatusPending)).
			Updates(requestUpdates)
		if requestUpdate.Error != nil {
			return requestUpdate.Error
		}
		if requestUpdate.RowsAffected == 0 {
			return domainerrors.ErrRepositoryInvariantBroke
		}

		for _, message := range mutation.Outbox {
			outboxRow := outboxModel{
				OutboxID:     message.OutboxID,
				EventType:    message.EventType,
				PartitionKey: message.PartitionKey,
				Payload:      message.Payload,
				Status:       outboxStatusPending,
				CreatedAt:    message.CreatedAt.UTC(),
			}
			if err := tx.Create(&outboxRow).Error; err != nil {
				if isUniqueViolation(err) {
					return domainerrors.ErrRepositoryInvariantBroke
				}
				return err
			}
		}

		var refreshedRow approvalRequestModel
		if err := tx.Where("id = ?", requestID).First(&refreshedRow).Error; err != nil {
			return err
		}
		refreshedDecisions, err := r.loadDecisions(tx, requestID)
		if err != nil {
			return err
		}
		result = ports.RequestWithDecisions{
			Request:   refreshedRow.toEntity(),
			Decisions: refreshedDecisions,
		}
		return nil
	})
	if err != nil {
		if isSerializationFailure(err) {
			return ports.RequestWithDecisions{}, domainerrors.ErrStorageConflict
		}
		switch {
		case errors.Is(err, domainerrors.ErrRequestNotFound),
			errors.Is(err, domainerrors.ErrRequestResolved),
			errors.Is(err, domainerrors.ErrNotRecipient),
			errors.Is(err, domainerrors.ErrAlreadyDecided):
			return ports.RequestWithDecisions{}, err
		}
		return ports.RequestWithDecisions{}, r.logError("approval_repo_cast_decision_failed", err, "request_id", requestID)
	}
	return result, nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error
	if err != nil {
		return nil, r.logError("approval_repo_list_outbox_failed", err)
	}
	messages := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      row.Payload,
			CreatedAt:    row.CreatedAt,
		})
	}
	return messages, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, outboxID string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("id = ? AND status = ?", outboxID, outboxStatusPending).
		Updates(map[string]any{
			"status":  outboxStatusSent,
			"sent_at": sentAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("approval_repo_mark_outbox_failed", result.Error, "outbox_id", outboxID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	return nil
}

func (r *Repository) loadDecisions(tx *gorm.DB, requestID string) ([]entities.RecipientDecision, error) {
	var rows []recipientDecisionModel
	if err := tx.
		Where("request_id = ?", requestID).
		Order("user_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	decisions := make([]entities.RecipientDecision, 0, len(rows))
	for _, row := range rows {
		decisions = append(decisions, row.toEntity())
	}
	return decisions, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "project-tracking/approval-workflow",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("approval repository operation failed", fields...)
	return err
}

// SystemClock is the production clock adapter.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// UUIDGenerator issues request and event identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

type approvalRequestModel struct {
	ID               string     `gorm:"column:id;primaryKey"`
	Title            string     `gorm:"column:title"`
	Description      string     `gorm:"column:description"`
	ActionKey        string     `gorm:"column:action_key"`
	ActionPayload    []byte     `gorm:"column:action_payload"`
	RequestedBy      int64      `gorm:"column:requested_by"`
	Status           string     `gorm:"column:status"`
	ResolvedDecision *string    `gorm:"column:resolved_decision"`
	ResolvedAt       *time.Time `gorm:"column:resolved_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (approvalRequestModel) TableName() string {
	return "approval_requests"
}

func requestModelFromEntity(request entities.ApprovalRequest) approvalRequestModel {
	row := approvalRequestModel{
		ID:            request.RequestID,
		Title:         request.Title,
		Description:   request.Description,
		ActionKey:     request.ActionKey,
		ActionPayload: request.ActionPayload,
		RequestedBy:   request.RequestedBy,
		Status:        string(request.Status),
		CreatedAt:     request.CreatedAt.UTC(),
		UpdatedAt:     request.UpdatedAt.UTC(),
	}
	if request.ResolvedDecision != nil {
		value := string(*request.ResolvedDecision)
		row.ResolvedDecision = &value
	}
	if request.ResolvedAt != nil {
		value := request.ResolvedAt.UTC()
		row.ResolvedAt = &value
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m approvalRequestModel) toEntity() entities.ApprovalRequest {
	request := entities.ApprovalRequest{
		RequestID:     m.ID,
		Title:         m.Title,
		Description:   m.Description,
		ActionKey:     m.ActionKey,
		ActionPayload: m.ActionPayload,
		RequestedBy:   m.RequestedBy,
		Status:        entities.RequestStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.ResolvedDecision != nil {
		value := entities.Decision(*m.ResolvedDecision)
		request.ResolvedDecision = &value
	}
	if m.ResolvedAt != nil {
		value := *m.ResolvedAt
		request.ResolvedAt = &value
	}
	return request
}

type recipientDecisionModel struct {
	RequestID  string     `gorm:"column:request_id;primaryKey"`
	UserID     int64      `gorm:"column:user_id;primaryKey"`
	Decision   *string    `gorm:"column:decision"`
	DecisionAt *time.Time `gorm:"column:decision_at"`
}

func (recipientDecisionModel) TableName() string {
	return "approval_request_recipients"
}

func decisionModelFromEntity(decision entities.RecipientDecision) recipientDecisionModel {
	row := recipientDecisionModel{
		RequestID: decision.RequestID,
		UserID:    decision.UserID,
	}
	if decision.Decision != nil {
		value := string(*decision.Decision)
		row.Decision = &value
	}
	if decision.DecisionAt != nil {
		value := decision.DecisionAt.UTC()
		row.DecisionAt = &value
	}
	return row
}

func (m recipientDecisionModel) toEntity() entities.RecipientDecision {
	decision := entities.RecipientDecision{
		RequestID: m.RequestID,
		UserID:    m.UserID,
	}
	if m.Decision != nil {
		value := entities.Decision(*m.Decision)
		decision.Decision = &value
	}
	if m.DecisionAt != nil {
		value := *m.DecisionAt
		decision.DecisionAt = &value
	}
	return decision
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	SentAt       *time.Time `gorm:"column:sent_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
}

func (outboxModel) TableName() string {
	return "approval_outbox"
}

func decisionColumnValue(decision *entities.Decision) *string {
	if decision == nil {
		return nil
	}
	value := string(*decision)
	return &value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isSerializationFailure matches transaction conflicts the caller may retry:
// serialization_failure (40001) and deadlock_detected (40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// Package store persists invoice transactions and their processing history,
// and holds the raw submission artifacts in blob storage.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/report"
)

// InvoiceTransaction is the database record tracking one submission through
// the pipeline. Key invoice fields are denormalized for querying; the full
// validation report is stored as JSON.
type InvoiceTransaction struct {
	ID     uuid.UUID               `gorm:"type:uuid;primaryKey" json:"id"`
	Status model.TransactionStatus `gorm:"index;not null" json:"status"`
	Format model.Format            `json:"format,omitempty"`

	SourceFilename string `json:"source_filename,omitempty"`
	RawStorageURI  string `json:"raw_storage_uri,omitempty"`
	XMLStorageURI  string `json:"xml_storage_uri,omitempty"`

	InvoiceNumber string          `gorm:"index" json:"invoice_number,omitempty"`
	SellerName    string          `json:"seller_name,omitempty"`
	SellerVATID   string          `gorm:"index" json:"seller_vat_id,omitempty"`
	BuyerName     string          `json:"buyer_name,omitempty"`
	IssueDate     *time.Time      `json:"issue_date,omitempty"`
	TotalAmount   string          `json:"total_amount,omitempty"`
	CurrencyCode  string          `json:"currency_code,omitempty"`

	ValidationReport json.RawMessage `gorm:"type:jsonb" json:"validation_report,omitempty"`
	StatusReason     string          `json:"status_reason,omitempty"`
	RetryCount       int             `json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName keeps the legacy table name stable.
func (InvoiceTransaction) TableName() string { return "invoice_transactions" }

// ProcessingLog is one audit entry for a transaction: a pipeline step, a
// status change, or an operator action.
type ProcessingLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TransactionID uuid.UUID `gorm:"type:uuid;index;not null" json:"transaction_id"`
	Step          string    `json:"step"`
	Message       string    `json:"message"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName keeps the legacy table name stable.
func (ProcessingLog) TableName() string { return "processing_logs" }

// Repository is the transaction persistence surface. All errors are wrapped
// as model.InfraError so callers can route them to retry handling.
type Repository struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewRepository creates a repository over db.
func NewRepository(db *gorm.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "store").Logger()}
}

// Migrate creates or updates the schema.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(&InvoiceTransaction{}, &ProcessingLog{}); err != nil {
		return model.NewInfraError("store.migrate", "schema migration failed", err)
	}
	return nil
}

// Create inserts a new transaction in RECEIVED state and returns it.
func (r *Repository) Create(ctx context.Context, filename, rawURI string) (*InvoiceTransaction, error) {
	tx := &InvoiceTransaction{
		ID:             uuid.New(),
		Status:         model.StatusReceived,
		SourceFilename: filename,
		RawStorageURI:  rawURI,
	}
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, model.NewInfraError("store.create", "transaction insert failed", err)
	}
	return tx, nil
}

// Get loads a transaction by ID. A missing row returns (nil, nil).
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*InvoiceTransaction, error) {
	var tx InvoiceTransaction
	err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewInfraError("store.get", "transaction lookup failed", err)
	}
	return &tx, nil
}

// List returns transactions newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status model.TransactionStatus, limit int) ([]InvoiceTransaction, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var txs []InvoiceTransaction
	if err := q.Find(&txs).Error; err != nil {
		return nil, model.NewInfraError("store.list", "transaction listing failed", err)
	}
	return txs, nil
}

// ClaimForProcessing atomically moves a transaction from RECEIVED or ERROR
// into PROCESSING. This conditional update is the only synchronization
// primitive in the pipeline: a claim that matches zero rows means another
// worker holds the transaction or it is already terminal, and the caller
// must drop the task without side effects.
func (r *Repository) ClaimForProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&InvoiceTransaction{}).
		Where("id = ? AND status IN ?", id, []model.TransactionStatus{model.StatusReceived, model.StatusError}).
		Updates(map[string]any{
			"status":     model.StatusProcessing,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, model.NewInfraError("store.claim", "claim update failed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Finalize writes the terminal status, the validation report and the
// denormalized invoice fields in one update.
func (r *Repository) Finalize(ctx context.Context, id uuid.UUID, status model.TransactionStatus, reason string, rep *report.Report, inv *model.CanonicalInvoice, format model.Format, xmlURI string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":        status,
		"status_reason": reason,
		"updated_at":    now,
		"completed_at":  &now,
	}
	if format != "" {
		updates["format"] = format
	}
	if xmlURI != "" {
		updates["xml_storage_uri"] = xmlURI
	}
	if rep != nil {
		blob, err := json.Marshal(rep)
		if err != nil {
			return model.NewInfraError("store.finalize", "report serialization failed", err)
		}
		updates["validation_report"] = json.RawMessage(blob)
	}
	if inv != nil {
		updates["invoice_number"] = inv.InvoiceNumber
		updates["seller_name"] = inv.Seller.Name
		updates["seller_vat_id"] = inv.Seller.VATID
		updates["buyer_name"] = inv.Buyer.Name
		updates["issue_date"] = &inv.IssueDate
		updates["total_amount"] = inv.PayableAmount.StringFixed(2)
		updates["currency_code"] = inv.CurrencyCode
	}

	err := r.db.WithContext(ctx).
		Model(&InvoiceTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return model.NewInfraError("store.finalize", "finalize update failed", err)
	}
	return nil
}

// ResetForRetry moves a PROCESSING transaction back to RECEIVED and bumps
// the retry counter, so the next attempt can claim it again.
func (r *Repository) ResetForRetry(ctx context.Context, id uuid.UUID, reason string) error {
	err := r.db.WithContext(ctx).
		Model(&InvoiceTransaction{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]any{
			"status":        model.StatusReceived,
			"status_reason": reason,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		return model.NewInfraError("store.reset", "retry reset failed", err)
	}
	return nil
}

// MarkError moves a transaction to ERROR terminal state.
func (r *Repository) MarkError(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).
		Model(&InvoiceTransaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        model.StatusError,
			"status_reason": reason,
			"updated_at":    now,
			"completed_at":  &now,
		}).Error
	if err != nil {
		return model.NewInfraError("store.mark_error", "error update failed", err)
	}
	return nil
}

// RequeueFromError moves an ERROR or INVALID transaction back to RECEIVED
// for an operator-triggered retry, up to maxRetries attempts. Returns false
// when the transaction is not in a retryable state or the cap is reached.
func (r *Repository) RequeueFromError(ctx context.Context, id uuid.UUID, maxRetries int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&InvoiceTransaction{}).
		Where("id = ? AND status IN ? AND retry_count < ?", id,
			[]model.TransactionStatus{model.StatusError, model.StatusInvalid}, maxRetries).
		Updates(map[string]any{
			"status":        model.StatusReceived,
			"status_reason": "manual retry",
			"retry_count":   gorm.Expr("retry_count + 1"),
			"completed_at":  nil,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, model.NewInfraError("store.requeue", "requeue update failed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// LogStep appends one audit entry. Logging is best effort: a failed insert
// is reported but never fails the pipeline.
func (r *Repository) LogStep(ctx context.Context, id uuid.UUID, step, message, detail string) {
	entry := ProcessingLog{TransactionID: id, Step: step, Message: message, Detail: detail}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
		r.log.Warn().Err(err).Str("transaction_id", id.String()).Str("step", step).Msg("audit log insert failed")
	}
}

// Logs returns the audit trail of a transaction, oldest first.
func (r *Repository) Logs(ctx context.Context, id uuid.UUID) ([]ProcessingLog, error) {
	var logs []ProcessingLog
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", id).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, model.NewInfraError("store.logs", "audit log query failed", err)
	}
	return logs, nil
}

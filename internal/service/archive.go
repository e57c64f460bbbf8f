package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/DukeRupert/drphyllis/internal/domain"
	"github.com/DukeRupert/drphyllis/internal/storage"
	"github.com/google/uuid"
)

// maxArchiveSize bounds one archived grading document.
const maxArchiveSize = 1 << 20

// ArchiveDocument is the JSON stored for each grading. The owner is only
// identified by the key prefix, never by email.
type ArchiveDocument struct {
	ID           uuid.UUID       `json:"id"`
	University   string          `json:"university"`
	QuestionID   string          `json:"questionId"`
	QuestionText string          `json:"questionText,omitempty"`
	Answer       string          `json:"answer"`
	Scale        int             `json:"scale"`
	Feedback     domain.Feedback `json:"feedback"`
	ModelOutput  json.RawMessage `json:"modelOutput,omitempty"`
	Model        string          `json:"model"`
	Bucket       domain.Bucket   `json:"bucket,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Archiver writes grading documents to object storage.
type Archiver struct {
	storage storage.Storage
	logger  *slog.Logger
}

// NewArchiver creates an archiver. A nil storage disables archiving.
func NewArchiver(st storage.Storage, logger *slog.Logger) *Archiver {
	return &Archiver{storage: st, logger: logger}
}

// Enabled reports whether documents are actually written.
func (a *Archiver) Enabled() bool {
	return a != nil && a.storage != nil
}

// Save stores doc under the owner's prefix and returns its key. It returns an
// empty key when archiving is disabled.
func (a *Archiver) Save(ctx context.Context, email string, doc ArchiveDocument) (string, error) {
	const op = "archive.save"

	if !a.Enabled() {
		return "", nil
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", domain.Internal(err, op, "failed to encode grading archive")
	}

	key := storage.ArchiveKey(domain.NormalizeEmail(email), doc.ID, doc.CreatedAt)
	err = a.storage.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{
		ContentType: "application/json",
		MaxSize:     maxArchiveSize,
	})
	if err != nil {
		return "", domain.Internal(err, op, "failed to archive grading")
	}

	a.logger.Debug("Grading archived", "key", key, "size", len(body))
	return key, nil
}

// Load reads back the document stored under key. It returns nil when
// archiving is disabled or the grading was never archived.
func (a *Archiver) Load(ctx context.Context, key string) (*ArchiveDocument, error) {
	const op = "archive.load"

	if !a.Enabled() || key == "" {
		return nil, nil
	}

	rc, _, err := a.storage.Get(ctx, key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, domain.Internal(err, op, "failed to read grading archive")
	}
	defer rc.Close()

	var doc ArchiveDocument
	if err := json.NewDecoder(io.LimitReader(rc, maxArchiveSize)).Decode(&doc); err != nil {
		return nil, domain.Internal(err, op, "failed to decode grading archive")
	}
	return &doc, nil
}

// Delete removes the document stored under key.
func (a *Archiver) Delete(ctx context.Context, key string) error {
	const op = "archive.delete"

	if !a.Enabled() || key == "" {
		return nil
	}
	if err := a.storage.Delete(ctx, key); err != nil {
		return domain.Internal(err, op, "failed to delete grading archive")
	}
	return nil
}

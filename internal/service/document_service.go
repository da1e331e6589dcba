package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eutiquio/farm-portal-api/internal/models"
	"github.com/eutiquio/farm-portal-api/pkg/config"
	appErrors "github.com/eutiquio/farm-portal-api/pkg/errors"
)

type documentStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type documentSigner interface {
	Generate(docID, relPath string) (string, time.Time, error)
	Parse(token string) (docID, relPath string, expiresAt time.Time, err error)
}

type documentLedger interface {
	FindByID(ctx context.Context, id string) (*models.PreEnrollment, error)
	AttachDocument(ctx context.Context, id, name, url, mimeType string) error
}

// DocumentUpload is the result of storing a supporting document.
type DocumentUpload struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DocumentService stores supporting documents for enrollment requests and
// mints the short-lived URLs used to fetch them.
type DocumentService struct {
	ledger documentLedger
	store  documentStore
	signer documentSigner
	cfg    config.DocumentsConfig
	logger *zap.Logger
}

// NewDocumentService constructs DocumentService.
func NewDocumentService(ledger documentLedger, store documentStore, signer documentSigner, cfg config.DocumentsConfig, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{ledger: ledger, store: store, signer: signer, cfg: cfg, logger: logger}
}

func (s *DocumentService) allowedMIME(mimeType string) bool {
	if len(s.cfg.AllowedMIMEs) == 0 {
		return true
	}
	for _, m := range s.cfg.AllowedMIMEs {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

// Upload stores a document for a pending enrollment request and returns a
// signed URL for it. Only the request owner may attach documents, and only
// while the request is pending.
func (s *DocumentService) Upload(ctx context.Context, requestID, studentID, filename, mimeType string, size int64, r io.Reader) (*DocumentUpload, error) {
	request, err := s.ledger.FindByID(ctx, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	if request.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not your enrollment request")
	}
	if request.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "documents can only be attached while pending")
	}
	if !s.allowedMIME(mimeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported document type")
	}
	if s.cfg.MaxFileSizeBytes > 0 && size > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document exceeds the size limit")
	}

	stored := fmt.Sprintf("%s%s", requestID, filepath.Ext(filename))
	relPath, err := s.store.SaveStream(stored, r)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}
	if err := s.ledger.AttachDocument(ctx, requestID, filename, relPath, mimeType); err != nil {
		if delErr := s.store.Delete(relPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned document", zap.String("path", relPath), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach document")
	}

	url, expiresAt, err := s.signer.Generate(requestID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document url")
	}
	return &DocumentUpload{Name: filename, URL: url, ExpiresAt: expiresAt}, nil
}

// SignedURL mints a fresh signed URL for a request's stored document.
func (s *DocumentService) SignedURL(ctx context.Context, requestID string) (*DocumentUpload, error) {
	request, err := s.ledger.FindByID(ctx, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment request")
	}
	if request.DocumentURL == nil || request.DocumentName == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no document attached")
	}
	url, expiresAt, err := s.signer.Generate(requestID, *request.DocumentURL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document url")
	}
	return &DocumentUpload{Name: *request.DocumentName, URL: url, ExpiresAt: expiresAt}, nil
}

// Open validates a signed token and opens the underlying file.
func (s *DocumentService) Open(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired document link")
	}
	f, err := s.store.Open(relPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document")
	}
	return f, nil
}

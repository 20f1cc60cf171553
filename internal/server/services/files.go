package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/dmitrijs2005/securedocs/internal/cryptox"
	"github.com/dmitrijs2005/securedocs/internal/dbx"
	"github.com/dmitrijs2005/securedocs/internal/logging"
	"github.com/dmitrijs2005/securedocs/internal/server/models"
	"github.com/dmitrijs2005/securedocs/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/securedocs/internal/server/storage"
)

// FileService runs the encrypt, store, retrieve, share and delete workflows.
//
// Every mutation that adds or drops a reference to a content address runs in
// a transaction holding the per-address lock, so the reference count it reads
// stays true until commit. A pin whose record is deleted while shared copies
// still point at the content is retained and released with the last copy.
type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	gateway     storage.Gateway
	key         []byte
	logger      logging.Logger
}

// NewFileService copies key; it must be common.KeySize bytes.
func NewFileService(db *sql.DB, m repomanager.RepositoryManager, gw storage.Gateway, key []byte, logger logging.Logger) (*FileService, error) {
	if len(key) != common.KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes", common.ErrorValidation, common.KeySize)
	}
	return &FileService{
		db:          db,
		repomanager: m,
		gateway:     gw,
		key:         append([]byte(nil), key...),
		logger:      logger.With("module", "files"),
	}, nil
}

// Upload encrypts data under the system key and a fresh IV, stores the
// ciphertext and records it for userID. If the record cannot be written the
// new pin is released again.
func (s *FileService) Upload(ctx context.Context, userID, filename string, data []byte) (*models.FileRecord, error) {
	if userID == "" {
		return nil, common.ErrorUnauthorized
	}
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", common.ErrorValidation)
	}

	iv, err := cryptox.NewIV()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	ciphertext, err := cryptox.Encrypt(data, s.key, iv)
	if err != nil {
		return nil, err
	}

	pin, err := s.gateway.Put(ctx, ciphertext, filename)
	if err != nil {
		s.logger.Error(ctx, "upload: put failed", "user_id", userID, "error", err)
		return nil, err
	}

	rec := &models.FileRecord{
		OwnerID:        userID,
		Filename:       filename,
		ContentAddress: pin.ContentAddress,
		PinID:          pin.PinID,
		Key:            append([]byte(nil), s.key...),
		IV:             iv,
	}

	rec, err = s.repomanager.Files(s.db).Create(ctx, rec)
	if err != nil {
		s.releaseOrphan(ctx, userID, pin)
		return nil, err
	}

	s.logger.Info(ctx, "file uploaded",
		"user_id", userID, "record_id", rec.ID, "pin_id", rec.PinID,
		"content_address", rec.ContentAddress, "size", len(data))
	return rec, nil
}

func (s *FileService) releaseOrphan(ctx context.Context, userID string, pin storage.Pin) {
	ctx = context.WithoutCancel(ctx)
	if err := s.gateway.Unpin(ctx, pin.PinID); err != nil {
		s.logger.Error(ctx, "upload: orphaned pin left behind",
			"user_id", userID, "pin_id", pin.PinID, "content_address", pin.ContentAddress, "error", err)
		return
	}
	s.logger.Warn(ctx, "upload: record write failed, pin released",
		"user_id", userID, "pin_id", pin.PinID, "content_address", pin.ContentAddress)
}

// Decrypt returns the filename and plaintext of one of userID's records.
func (s *FileService) Decrypt(ctx context.Context, userID, recordID string) (string, []byte, error) {
	rec, err := s.repomanager.Files(s.db).Find(ctx, userID, recordID)
	if err != nil {
		return "", nil, err
	}

	ciphertext, err := s.gateway.Get(ctx, rec.ContentAddress)
	if err != nil {
		s.logger.Error(ctx, "decrypt: get failed",
			"user_id", userID, "record_id", recordID, "content_address", rec.ContentAddress, "error", err)
		return "", nil, err
	}

	plaintext, err := cryptox.Decrypt(ciphertext, rec.Key, rec.IV)
	if err != nil {
		s.logger.Error(ctx, "decrypt: cannot recover plaintext",
			"user_id", userID, "record_id", recordID, "content_address", rec.ContentAddress, "error", err)
		return "", nil, err
	}

	return rec.Filename, plaintext, nil
}

// Share gives recipientEmail's user an independent copy of the record: same
// content and key material, no pin.
func (s *FileService) Share(ctx context.Context, ownerID, recipientEmail, recordID string) (*models.FileRecord, error) {
	if recipientEmail == "" {
		return nil, fmt.Errorf("%w: recipient email is required", common.ErrorValidation)
	}

	rec, err := s.repomanager.Files(s.db).Find(ctx, ownerID, recordID)
	if err != nil {
		return nil, err
	}

	recipient, err := s.repomanager.Users(s.db).GetByEmail(ctx, normalizeEmail(recipientEmail))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: recipient %s", common.ErrorNotFound, recipientEmail)
		}
		return nil, err
	}
	if recipient.ID == ownerID {
		return nil, fmt.Errorf("%w: cannot share a file with yourself", common.ErrorValidation)
	}

	var shared *models.FileRecord
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)
		if err := repo.LockContentAddress(ctx, rec.ContentAddress); err != nil {
			return err
		}
		// the source record may have been deleted while we waited
		if _, err := repo.Find(ctx, ownerID, recordID); err != nil {
			return err
		}
		shared, err = repo.Create(ctx, rec.ShareCopy(recipient.ID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "file shared",
		"user_id", ownerID, "record_id", recordID, "recipient_id", recipient.ID,
		"shared_record_id", shared.ID, "content_address", shared.ContentAddress)
	return shared, nil
}

// Delete removes the record of userID that holds pinID and releases the pin.
// When the unpin fails nothing is removed. When shared copies still reference
// the content the pin is retained until the last copy is deleted.
func (s *FileService) Delete(ctx context.Context, userID, pinID string) error {
	if pinID == "" {
		return fmt.Errorf("%w: pin id is required", common.ErrorValidation)
	}

	rec, err := s.repomanager.Files(s.db).FindByPinID(ctx, userID, pinID)
	if err != nil {
		return err
	}

	return s.deleteRecord(ctx, userID, rec)
}

// DeleteRecord removes one of userID's records by id, pinned or not.
func (s *FileService) DeleteRecord(ctx context.Context, userID, recordID string) error {
	rec, err := s.repomanager.Files(s.db).Find(ctx, userID, recordID)
	if err != nil {
		return err
	}

	return s.deleteRecord(ctx, userID, rec)
}

func (s *FileService) deleteRecord(ctx context.Context, userID string, rec *models.FileRecord) error {
	var retained bool
	var released []string

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)
		if err := repo.LockContentAddress(ctx, rec.ContentAddress); err != nil {
			return err
		}
		// a concurrent delete may have won the lock
		if _, err := repo.Find(ctx, userID, rec.ID); err != nil {
			return err
		}

		refs, err := repo.CountByContentAddress(ctx, rec.ContentAddress)
		if err != nil {
			return err
		}
		others := refs - 1

		var toRelease []string
		switch {
		case rec.IsPinOwner() && others > 0:
			if err := repo.RetainPin(ctx, rec.ContentAddress, rec.PinID); err != nil {
				return err
			}
			retained = true
		case rec.IsPinOwner():
			toRelease = append(toRelease, rec.PinID)
		}
		if others == 0 {
			pins, err := repo.ListRetainedPins(ctx, rec.ContentAddress)
			if err != nil {
				return err
			}
			toRelease = append(toRelease, pins...)
		}

		// Unpin before the row goes away; a failure rolls everything back.
		for _, pinID := range toRelease {
			if err := s.gateway.Unpin(ctx, pinID); err != nil {
				return err
			}
			if pinID != rec.PinID {
				if err := repo.DropRetainedPin(ctx, pinID); err != nil {
					return err
				}
			}
			released = append(released, pinID)
		}

		return repo.Delete(ctx, userID, rec.ID)
	})
	if err != nil {
		s.logger.Error(ctx, "delete failed",
			"user_id", userID, "record_id", rec.ID, "pin_id", rec.PinID,
			"content_address", rec.ContentAddress, "error", err)
		return err
	}

	s.logger.Info(ctx, "file deleted",
		"user_id", userID, "record_id", rec.ID, "pin_id", rec.PinID,
		"content_address", rec.ContentAddress, "pin_retained", retained, "pins_released", released)
	return nil
}

// List returns userID's records, oldest first.
func (s *FileService) List(ctx context.Context, userID string) ([]*models.FileRecord, error) {
	return s.repomanager.Files(s.db).ListByOwner(ctx, userID)
}

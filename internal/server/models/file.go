// Package models defines server-side data models persisted in the database.
package models

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/common"
)

// FileRecord binds a filename owned by one user to a ciphertext in the
// content-addressed store and the material needed to decrypt it.
//
// Records are immutable. A shared copy carries the same content address, key
// and IV as the original but no PinID, because the recipient does not own the
// pin.
type FileRecord struct {
	ID      string `json:"id"`
	OwnerID string `json:"-"`

	// Filename is the original client-supplied name, stored verbatim.
	Filename string `json:"filename"`
	// ContentAddress locates the ciphertext; derived from its bytes by the store.
	ContentAddress string `json:"contentAddress"`
	// PinID is the storage-side handle used to release the ciphertext.
	// Empty for shared copies.
	PinID string `json:"pinId,omitempty"`

	Key []byte `json:"-"`
	IV  []byte `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsPinOwner reports whether this record holds the pin on its content.
func (f *FileRecord) IsPinOwner() bool { return f.PinID != "" }

// KeyHex and IVHex return the persisted hex forms.
func (f *FileRecord) KeyHex() string { return hex.EncodeToString(f.Key) }
func (f *FileRecord) IVHex() string { return hex.EncodeToString(f.IV) }

// SetKeyMaterial decodes hex key and IV read back from storage.
func (f *FileRecord) SetKeyMaterial(keyHex, ivHex string) error {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != common.KeySize {
		return fmt.Errorf("%w: record %s has malformed key", common.ErrorCorruption, f.ID)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != common.IVSize {
		return fmt.Errorf("%w: record %s has malformed iv", common.ErrorCorruption, f.ID)
	}
	f.Key, f.IV = key, iv
	return nil
}

// ShareCopy builds the recipient's record: same content and key material,
// new identity, no pin.
func (f *FileRecord) ShareCopy(recipientID string) *FileRecord {
	return &FileRecord{
		OwnerID:        recipientID,
		Filename:       f.Filename,
		ContentAddress: f.ContentAddress,
		Key:            append([]byte(nil), f.Key...),
		IV:             append([]byte(nil), f.IV...),
	}
}

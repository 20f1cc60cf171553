package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/dmitrijs2005/securedocs/internal/filex"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketPins = []byte("pins")
	bucketRefs = []byte("refs")
)

// LocalGateway keeps blobs on disk under <dir>/<ca[:2]>/<ca> and the pin
// bookkeeping in a bbolt database next to them. Same content addresses and
// unpin semantics as S3Gateway.
type LocalGateway struct {
	dir string
	db  *bbolt.DB
	// mu orders blob writes against blob removal.
	mu sync.Mutex
}

// OpenLocalGateway opens or creates a store rooted at dir.
func OpenLocalGateway(dir string) (*LocalGateway, error) {
	if err := filex.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}
	db, err := bbolt.Open(filepath.Join(dir, "pins.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPins, bucketRefs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	return &LocalGateway{dir: dir, db: db}, nil
}

func (g *LocalGateway) Close() error { return g.db.Close() }

func (g *LocalGateway) blobPath(ca string) string {
	return filepath.Join(g.dir, ca[:2], ca)
}

func (g *LocalGateway) Put(ctx context.Context, data []byte, name string) (Pin, error) {
	if err := ctx.Err(); err != nil {
		return Pin{}, fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
	}
	pin := Pin{ContentAddress: ContentAddress(data), PinID: uuid.NewString()}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.writeBlob(pin.ContentAddress, data); err != nil {
		return Pin{}, fmt.Errorf("%w: write blob: %w", common.ErrorStorageUnavailable, err)
	}

	err := g.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketPins).Put([]byte(pin.PinID), []byte(pin.ContentAddress)); err != nil {
			return err
		}
		return tx.Bucket(bucketRefs).Put([]byte(refKey(pin.ContentAddress, pin.PinID)), nil)
	})
	if err != nil {
		return Pin{}, fmt.Errorf("%w: record pin: %w", common.ErrorStorageUnavailable, err)
	}
	return pin, nil
}

// writeBlob is a no-op when the blob is already present.
func (g *LocalGateway) writeBlob(ca string, data []byte) error {
	path := g.blobPath(ca)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return filex.WriteFileAtomic(path, data)
}

func (g *LocalGateway) Get(ctx context.Context, contentAddress string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
	}
	if !validAddress(contentAddress) {
		return nil, fmt.Errorf("%w: content address %q", common.ErrorNotFound, contentAddress)
	}

	data, err := os.ReadFile(g.blobPath(contentAddress))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: content address %s", common.ErrorNotFound, contentAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read blob: %w", common.ErrorStorageUnavailable, err)
	}
	return data, nil
}

func (g *LocalGateway) Unpin(ctx context.Context, pinID string) error {
	if pinID == "" {
		return fmt.Errorf("%w: empty pin id", common.ErrorValidation)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrorStorageUnavailable, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var orphan string
	err := g.db.Update(func(tx *bbolt.Tx) error {
		pins := tx.Bucket(bucketPins)
		v := pins.Get([]byte(pinID))
		if v == nil {
			return nil
		}
		ca := string(v)

		refs := tx.Bucket(bucketRefs)
		if err := refs.Delete([]byte(refKey(ca, pinID))); err != nil {
			return err
		}
		if err := pins.Delete([]byte(pinID)); err != nil {
			return err
		}

		prefix := []byte(refPrefix(ca))
		if k, _ := refs.Cursor().Seek(prefix); k == nil || !bytes.HasPrefix(k, prefix) {
			orphan = ca
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: release pin: %w", common.ErrorStorageUnavailable, err)
	}

	if orphan != "" {
		if err := os.Remove(g.blobPath(orphan)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: remove blob: %w", common.ErrorStorageUnavailable, err)
		}
	}
	return nil
}

func validAddress(ca string) bool {
	if len(ca) != 64 {
		return false
	}
	_, err := hex.DecodeString(ca)
	return err == nil
}

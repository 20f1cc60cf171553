package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/dmitrijs2005/securedocs/internal/dbx"
	"github.com/dmitrijs2005/securedocs/internal/server/models"
	filesrepo "github.com/dmitrijs2005/securedocs/internal/server/repositories/files"
	usersrepo "github.com/dmitrijs2005/securedocs/internal/server/repositories/users"
	"github.com/dmitrijs2005/securedocs/internal/server/storage"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// newTxDB returns a real *sql.DB so dbx.WithTx can begin and commit; the
// fake repositories ignore the handle they are given.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// memStore backs both fake repositories.
type memStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*models.User
	logins   map[string][]time.Time
	records  map[string]*models.FileRecord
	retained map[string]string

	createRecordErr error
	appendLoginErr  error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*models.User{},
		logins:   map[string][]time.Time{},
		records:  map[string]*models.FileRecord{},
		retained: map[string]string{},
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) addUser(email string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{ID: s.nextID("user"), Email: email, RegisteredAt: time.Now()}
	s.users[u.ID] = u
	return u
}

func cloneRecord(r *models.FileRecord) *models.FileRecord {
	c := *r
	c.Key = append([]byte(nil), r.Key...)
	c.IV = append([]byte(nil), r.IV...)
	return &c
}

type fakeRepoManager struct{ s *memStore }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository     { return &memUsers{m.s} }
func (m *fakeRepoManager) Files(db dbx.DBTX) filesrepo.Repository     { return &memFiles{m.s} }

type memUsers struct{ s *memStore }

func (r *memUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	u.ID = r.s.nextID("user")
	u.RegisteredAt = time.Now()
	c := *u
	r.s.users[u.ID] = &c
	return u, nil
}

func (r *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUsers) AppendLogin(ctx context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.appendLoginErr != nil {
		return r.s.appendLoginErr
	}
	r.s.logins[userID] = append(r.s.logins[userID], at)
	return nil
}

func (r *memUsers) ListLogins(ctx context.Context, userID string) ([]time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]time.Time{}, r.s.logins[userID]...), nil
}

type memFiles struct{ s *memStore }

func (r *memFiles) Create(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createRecordErr != nil {
		return nil, r.s.createRecordErr
	}
	rec.ID = r.s.nextID("rec")
	rec.CreatedAt = time.Now()
	r.s.records[rec.ID] = cloneRecord(rec)
	return rec, nil
}

func (r *memFiles) Find(ctx context.Context, ownerID, recordID string) (*models.FileRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[recordID]
	if !ok || rec.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return cloneRecord(rec), nil
}

func (r *memFiles) FindByPinID(ctx context.Context, ownerID, pinID string) (*models.FileRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.records {
		if rec.OwnerID == ownerID && rec.PinID == pinID {
			return cloneRecord(rec), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memFiles) ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.FileRecord{}
	for _, rec := range r.s.records {
		if rec.OwnerID == ownerID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memFiles) Delete(ctx context.Context, ownerID, recordID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[recordID]
	if !ok || rec.OwnerID != ownerID {
		return common.ErrorNotFound
	}
	delete(r.s.records, recordID)
	return nil
}

func (r *memFiles) CountByContentAddress(ctx context.Context, ca string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, rec := range r.s.records {
		if rec.ContentAddress == ca {
			n++
		}
	}
	return n, nil
}

func (r *memFiles) LockContentAddress(ctx context.Context, ca string) error { return nil }

func (r *memFiles) RetainPin(ctx context.Context, ca, pinID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.retained[pinID] = ca
	return nil
}

func (r *memFiles) ListRetainedPins(ctx context.Context, ca string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var pins []string
	for pin, c := range r.s.retained {
		if c == ca {
			pins = append(pins, pin)
		}
	}
	sort.Strings(pins)
	return pins, nil
}

func (r *memFiles) DropRetainedPin(ctx context.Context, pinID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.retained, pinID)
	return nil
}

// memGateway drops a blob with its last pin, like the S3 and local backends.
type memGateway struct {
	mu       sync.Mutex
	seq      int
	blobs    map[string][]byte
	pins     map[string]string
	unpinned []string

	putErr   error
	getErr   error
	unpinErr error
}

func newMemGateway() *memGateway {
	return &memGateway{blobs: map[string][]byte{}, pins: map[string]string{}}
}

func (g *memGateway) Put(ctx context.Context, data []byte, name string) (storage.Pin, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.putErr != nil {
		return storage.Pin{}, g.putErr
	}
	g.seq++
	ca := storage.ContentAddress(data)
	pin := fmt.Sprintf("pin-%d", g.seq)
	g.blobs[ca] = append([]byte(nil), data...)
	g.pins[pin] = ca
	return storage.Pin{ContentAddress: ca, PinID: pin}, nil
}

func (g *memGateway) Get(ctx context.Context, ca string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	b, ok := g.blobs[ca]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), b...), nil
}

func (g *memGateway) Unpin(ctx context.Context, pinID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unpinErr != nil {
		return g.unpinErr
	}
	g.unpinned = append(g.unpinned, pinID)
	ca, ok := g.pins[pinID]
	if !ok {
		return nil
	}
	delete(g.pins, pinID)
	for _, other := range g.pins {
		if other == ca {
			return nil
		}
	}
	delete(g.blobs, ca)
	return nil
}

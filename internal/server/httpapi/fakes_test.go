package httpapi

import (
	"context"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/dmitrijs2005/securedocs/internal/server/models"
)

type fakeUsers struct {
	tokens map[string]string

	registerErr error
	loginErr    error
	profile     *models.Profile
	profileErr  error

	lastEmail    string
	lastPassword string
	profileFor   string
}

func (f *fakeUsers) Register(ctx context.Context, email, password string) (*models.User, error) {
	f.lastEmail, f.lastPassword = email, password
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &models.User{ID: "user-1", Email: email, RegisteredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}, nil
}

func (f *fakeUsers) Login(ctx context.Context, email, password string) (string, error) {
	f.lastEmail, f.lastPassword = email, password
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "tok-1", nil
}

func (f *fakeUsers) Authenticate(token string) (string, error) {
	if id, ok := f.tokens[token]; ok {
		return id, nil
	}
	return "", common.ErrInvalidToken
}

func (f *fakeUsers) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	f.profileFor = userID
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}

type fakeFiles struct {
	err error

	uploadedBy   string
	uploadedName string
	uploadedData []byte

	decryptName string
	decryptData []byte

	calls []string
}

func (f *fakeFiles) Upload(ctx context.Context, userID, filename string, data []byte) (*models.FileRecord, error) {
	f.calls = append(f.calls, "upload")
	f.uploadedBy, f.uploadedName, f.uploadedData = userID, filename, data
	if f.err != nil {
		return nil, f.err
	}
	return &models.FileRecord{
		ID:             "rec-1",
		OwnerID:        userID,
		Filename:       filename,
		ContentAddress: "ca-1",
		PinID:          "pin-1",
		Key:            []byte("0123456789abcdef"),
		IV:             []byte("fedcba9876543210"),
	}, nil
}

func (f *fakeFiles) Decrypt(ctx context.Context, userID, recordID string) (string, []byte, error) {
	f.calls = append(f.calls, "decrypt:"+userID+":"+recordID)
	if f.err != nil {
		return "", nil, f.err
	}
	return f.decryptName, f.decryptData, nil
}

func (f *fakeFiles) Share(ctx context.Context, ownerID, recipientEmail, recordID string) (*models.FileRecord, error) {
	f.calls = append(f.calls, "share:"+ownerID+":"+recipientEmail+":"+recordID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.FileRecord{ID: "rec-2"}, nil
}

func (f *fakeFiles) Delete(ctx context.Context, userID, pinID string) error {
	f.calls = append(f.calls, "delete:"+userID+":"+pinID)
	return f.err
}

func (f *fakeFiles) DeleteRecord(ctx context.Context, userID, recordID string) error {
	f.calls = append(f.calls, "delete-record:"+userID+":"+recordID)
	return f.err
}

func (f *fakeFiles) List(ctx context.Context, userID string) ([]*models.FileRecord, error) {
	f.calls = append(f.calls, "list:"+userID)
	return nil, f.err
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/securedocs/internal/common"
	"github.com/dmitrijs2005/securedocs/internal/server/models"
)

const (
	maxJSONBodyBytes = 1 << 20
	multipartMemory  = 8 << 20
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	RegisteredAt time.Time `json:"registeredAt"`
	Message      string    `json:"message"`
}

type loginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

type uploadResponse struct {
	File    *models.FileRecord `json:"file"`
	Message string             `json:"message"`
}

type decryptRequest struct {
	RecordID string `json:"recordId"`
}

type shareRequest struct {
	RecipientEmail string `json:"recipientEmail"`
	RecordID       string `json:"recordId"`
}

type deleteRequest struct {
	PinID    string `json:"pinId"`
	RecordID string `json:"recordId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %w", common.ErrorValidation, err)
	}
	return nil
}

func (s *HTTPServer) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *HTTPServer) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:           u.ID,
		Email:        u.Email,
		RegisteredAt: u.RegisteredAt,
		Message:      "registered",
	})
}

func (s *HTTPServer) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     common.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.opts.TokenValidity / time.Second),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Message: "logged in"})
}

func (s *HTTPServer) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (s *HTTPServer) profile(w http.ResponseWriter, r *http.Request) {
	p, err := s.users.Profile(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, fmt.Errorf("%w: expected a multipart form: %w", common.ErrorValidation, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: no file uploaded", common.ErrorValidation))
		return
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read upload: %w", common.ErrorInternal, err))
		return
	}

	rec, err := s.files.Upload(ctx, userIDFromContext(ctx), header.Filename, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{File: rec, Message: "file uploaded"})
}

func (s *HTTPServer) decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RecordID == "" {
		s.writeError(w, r, fmt.Errorf("%w: recordId is required", common.ErrorValidation))
		return
	}

	name, data, err := s.files.Decrypt(r.Context(), userIDFromContext(r.Context()), req.RecordID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "attachment"
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) share(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RecordID == "" {
		s.writeError(w, r, fmt.Errorf("%w: recordId is required", common.ErrorValidation))
		return
	}

	if _, err := s.files.Share(r.Context(), userIDFromContext(r.Context()), req.RecipientEmail, req.RecordID); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "file shared"})
}

func (s *HTTPServer) delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	userID := userIDFromContext(ctx)

	var err error
	switch {
	case req.PinID != "":
		err = s.files.Delete(ctx, userID, req.PinID)
	case req.RecordID != "":
		err = s.files.DeleteRecord(ctx, userID, req.RecordID)
	default:
		err = fmt.Errorf("%w: pinId or recordId is required", common.ErrorValidation)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "file deleted"})
}

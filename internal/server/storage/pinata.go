package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/securedocs/internal/common"
)

const (
	DefaultPinataUploadURL = "https://uploads.pinata.cloud/v3/files"
	DefaultPinataAPIURL    = "https://api.pinata.cloud"
)

// PinataConfig holds the Pinata account settings.
type PinataConfig struct {
	JWT       string
	UploadURL string
	APIURL    string
	// Gateway is the dedicated gateway host ("example.mypinata.cloud") or a
	// full base URL.
	Gateway string
}

// PinataGateway stores blobs on IPFS through the Pinata v3 API. Content
// addresses are IPFS CIDs, pin ids are Pinata file ids.
type PinataGateway struct {
	client *http.Client
	cfg    PinataConfig
}

func NewPinataGateway(client *http.Client, cfg PinataConfig) *PinataGateway {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultPinataUploadURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultPinataAPIURL
	}
	return &PinataGateway{client: client, cfg: cfg}
}

type pinataUploadResponse struct {
	Data struct {
		ID  string `json:"id"`
		CID string `json:"cid"`
	} `json:"data"`
}

func (g *PinataGateway) Put(ctx context.Context, data []byte, name string) (Pin, error) {
	if name == "" {
		name = "blob"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("network", "public"); err != nil {
		return Pin{}, err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", "application/octet-stream")
	part, err := w.CreatePart(h)
	if err != nil {
		return Pin{}, err
	}
	if _, err := part.Write(data); err != nil {
		return Pin{}, err
	}
	if err := w.Close(); err != nil {
		return Pin{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.UploadURL, &body)
	if err != nil {
		return Pin{}, fmt.Errorf("%w: build upload request: %w", common.ErrorStorageUnavailable, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return Pin{}, fmt.Errorf("%w: pinata upload: %w", common.ErrorStorageUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Pin{}, statusError("upload", resp)
	}

	var out pinataUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Pin{}, fmt.Errorf("%w: decode upload response: %w", common.ErrorStorageUnavailable, err)
	}
	if out.Data.CID == "" || out.Data.ID == "" {
		return Pin{}, fmt.Errorf("%w: upload response missing cid or id", common.ErrorStorageUnavailable)
	}

	return Pin{ContentAddress: out.Data.CID, PinID: out.Data.ID}, nil
}

func (g *PinataGateway) Get(ctx context.Context, contentAddress string) ([]byte, error) {
	if contentAddress == "" {
		return nil, common.ErrorNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.gatewayURL(contentAddress), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build gateway request: %w", common.ErrorStorageUnavailable, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: pinata gateway: %w", common.ErrorStorageUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: cid %s", common.ErrorNotFound, contentAddress)
	case resp.StatusCode != http.StatusOK:
		return nil, statusError("get", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read gateway body: %w", common.ErrorStorageUnavailable, err)
	}
	return data, nil
}

func (g *PinataGateway) Unpin(ctx context.Context, pinID string) error {
	if pinID == "" {
		return fmt.Errorf("%w: empty pin id", common.ErrorValidation)
	}

	u := strings.TrimRight(g.cfg.APIURL, "/") + "/v3/files/public/" + url.PathEscape(pinID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("%w: build unpin request: %w", common.ErrorStorageUnavailable, err)
	}
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: pinata unpin: %w", common.ErrorStorageUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusError("unpin", resp)
	}
}

func (g *PinataGateway) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.JWT)
}

func (g *PinataGateway) gatewayURL(cid string) string {
	base := strings.TrimRight(g.cfg.Gateway, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return base + "/ipfs/" + url.PathEscape(cid)
}

// statusError turns an unexpected Pinata response into a storage error,
// quoting at most 512 bytes of the body.
func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: pinata %s: status %d: %s",
		common.ErrorStorageUnavailable, op, resp.StatusCode, strings.TrimSpace(string(b)))
}

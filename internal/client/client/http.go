package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultTimeout = 15 * time.Second

// HTTPClient is the REST implementation of Client. It is safe for
// concurrent use.
type HTTPClient struct {
	baseURL     string
	accessToken string
	timeout     time.Duration
	http        *http.Client
	conn        *grpc.ClientConn
	health      healthpb.HealthClient
}

type Option func(*HTTPClient)

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.timeout = d }
}

// WithHTTPClient replaces the underlying *http.Client, e.g. in tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.http = h }
}

// WithHealthConn makes Ping use the gRPC health service on conn.
// The client takes ownership and closes conn in Close.
func WithHealthConn(conn *grpc.ClientConn) Option {
	return func(c *HTTPClient) {
		c.conn = conn
		c.health = healthpb.NewHealthClient(conn)
	}
}

func NewHTTPClient(baseURL, accessToken string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		timeout:     defaultTimeout,
		http:        &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *HTTPClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.accessToken != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.accessToken)
	}
	return req, nil
}

// do sends req and, for 2xx replies, decodes the JSON body into out (if
// non-nil). Other statuses are mapped by statusError.
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(req.Context(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// Ping checks server liveness, preferring the gRPC health service.
func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.health != nil {
		resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
		if err != nil {
			return mapGRPCError(err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("%w: server is %s", common.ErrNetwork, resp.GetStatus())
		}
		return nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *HTTPClient) CreatePairing(ctx context.Context, doctorID, patientID string) (*wire.CreatePairingResponse, error) {
	var resp wire.CreatePairingResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/pairings", wire.CreatePairingRequest{DoctorID: doctorID, PatientID: patientID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) VerifyPairing(ctx context.Context, payload *wire.BootstrapPayload, pin string) (*wire.Connection, error) {
	var resp wire.VerifyPairingResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/pairings/verify", wire.VerifyPairingRequest{Payload: *payload, Pin: pin}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Connection, nil
}

func (c *HTTPClient) ListConnections(ctx context.Context) ([]wire.Connection, error) {
	var resp wire.ConnectionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/connections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

// FetchKeyMaterial restores a relationship key from the server. The caller
// must wipe the returned bytes.
func (c *HTTPClient) FetchKeyMaterial(ctx context.Context, keyID string) ([]byte, error) {
	var resp wire.KeyMaterialResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/keys/"+url.PathEscape(keyID)+"/material", nil, &resp); err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(resp.KeyMaterialB64)
	if err != nil || len(raw) != cryptox.KeySize {
		common.WipeByteArray(raw)
		return nil, fmt.Errorf("%w: key material for %s", common.ErrMalformedPayload, keyID)
	}
	return raw, nil
}

func (c *HTTPClient) RotateKey(ctx context.Context, keyID string) (*wire.CreatePairingResponse, error) {
	var resp wire.CreatePairingResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/keys/"+url.PathEscape(keyID)+"/rotate", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) RevokeKey(ctx context.Context, keyID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/keys/"+url.PathEscape(keyID)+"/revoke", nil, nil)
}

func (c *HTTPClient) DeleteKey(ctx context.Context, keyID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/keys/"+url.PathEscape(keyID), nil, nil)
}

// UploadFile is phase one: the ciphertext body with its cipher metadata in
// headers. The server records the file as pending.
func (c *HTTPClient) UploadFile(ctx context.Context, f *FileUpload) (*wire.UploadResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files", bytes.NewReader(f.Sealed.Ciphertext))
	if err != nil {
		return nil, err
	}
	h := req.Header
	h.Set("Content-Type", "application/octet-stream")
	h.Set(common.HeaderIV, base64.StdEncoding.EncodeToString(f.Sealed.IV))
	h.Set(common.HeaderAuthTag, base64.StdEncoding.EncodeToString(f.Sealed.AuthTag))
	h.Set(common.HeaderAlgorithm, f.Sealed.Algorithm)
	h.Set(common.HeaderKeyID, f.KeyID)
	h.Set(common.HeaderRecipientID, f.RecipientID)
	h.Set(common.HeaderFileName, url.QueryEscape(f.Name))

	var resp wire.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ConfirmFile(ctx context.Context, fileID string) (*wire.FileInfo, error) {
	var resp wire.FileInfo
	if err := c.doJSON(ctx, http.MethodPost, "/v1/files/"+url.PathEscape(fileID)+"/confirm", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) DeleteFile(ctx context.Context, fileID string, pendingOnly bool) error {
	path := "/v1/files/" + url.PathEscape(fileID)
	if pendingOnly {
		path += "?pending_only=" + strconv.FormatBool(pendingOnly)
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) DownloadFile(ctx context.Context, fileID string) (*Download, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	// Malformed metadata cannot authenticate; let Decrypt reject it.
	iv, _ := base64.StdEncoding.DecodeString(resp.Header.Get(common.HeaderIV))
	tag, _ := base64.StdEncoding.DecodeString(resp.Header.Get(common.HeaderAuthTag))

	name := resp.Header.Get(common.HeaderFileName)
	if unescaped, err := url.QueryUnescape(name); err == nil {
		name = unescaped
	}

	return &Download{
		FileID:      fileID,
		KeyID:       resp.Header.Get(common.HeaderKeyID),
		RecipientID: resp.Header.Get(common.HeaderRecipientID),
		Name:        name,
		Sealed: &cryptox.Sealed{
			Ciphertext: body,
			IV:         iv,
			AuthTag:    tag,
			Algorithm:  resp.Header.Get(common.HeaderAlgorithm),
		},
	}, nil
}

func (c *HTTPClient) ListFiles(ctx context.Context, keyID string) ([]wire.FileInfo, error) {
	path := "/v1/files"
	if keyID != "" {
		path += "?key_id=" + url.QueryEscape(keyID)
	}
	var resp wire.FilesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

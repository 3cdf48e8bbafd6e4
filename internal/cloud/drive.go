// Package cloud implements mdsync.CloudBackend for Google Drive, S3 and an
// in-memory store used by tests.
package cloud

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
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mdsync/internal/mdsync"
)

// DefaultDriveBaseURL is the Google API host serving Drive and userinfo.
const DefaultDriveBaseURL = "https://www.googleapis.com"

const (
	folderMimeType = "application/vnd.google-apps.folder"
	jsonMimeType   = "application/json"
	fileFields     = "id,name,modifiedTime,size"
	listFields     = "files(id,name,modifiedTime,size)"
)

// TokenFunc returns the current bearer token. An empty token fails the
// request with mdsync.ErrUnauthenticated before anything is sent.
type TokenFunc func() (string, error)

// Drive talks to the Google Drive v3 REST API. It only sees files it
// created itself (drive.file scope).
type Drive struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
	limiter *rate.Limiter
}

// DriveOption configures a Drive client.
type DriveOption func(*Drive)

// WithDriveHTTPClient replaces the default HTTP client.
func WithDriveHTTPClient(hc *http.Client) DriveOption {
	return func(d *Drive) { d.http = hc }
}

// NewDrive creates a Drive client. An empty baseURL means DefaultDriveBaseURL.
func NewDrive(baseURL string, token TokenFunc, opts ...DriveOption) *Drive {
	if baseURL == "" {
		baseURL = DefaultDriveBaseURL
	}
	d := &Drive{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// driveFile is the wire form of a Drive file resource.
type driveFile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Size         string    `json:"size,omitempty"`
}

func (f driveFile) remote() *mdsync.RemoteFile {
	size, _ := strconv.ParseInt(f.Size, 10, 64)
	return &mdsync.RemoteFile{ID: f.ID, Name: f.Name, ModifiedTime: f.ModifiedTime, Size: size}
}

type fileList struct {
	Files []driveFile `json:"files"`
}

// request sends one authenticated call and returns the response for 2xx
// statuses. Everything else becomes a RemoteError.
func (d *Drive) request(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader) (*http.Response, error) {
	token, err := d.token()
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("drive: %w", mdsync.ErrUnauthenticated)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}

	u := d.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeDriveError(resp)
}

// decodeDriveError maps a failed Drive response to a RemoteError carrying
// the API's own message.
func decodeDriveError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := ""
	if err := json.Unmarshal(data, &payload); err == nil {
		msg = payload.Error.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("Drive API error: %d", resp.StatusCode)
	}

	kind := mdsync.RemoteAPI
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = mdsync.RemoteAuth
	case http.StatusNotFound:
		kind = mdsync.RemoteNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		kind = mdsync.RemoteConflict
	}
	return &mdsync.RemoteError{Kind: kind, StatusCode: resp.StatusCode, Message: msg}
}

func (d *Drive) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := d.request(ctx, http.MethodGet, path, query, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (d *Drive) sendJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp, err := d.request(ctx, method, path, query, jsonMimeType, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// quote escapes a value for a Drive search query literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func (d *Drive) search(ctx context.Context, q string, orderBy string) ([]driveFile, error) {
	query := url.Values{"q": {q}, "fields": {listFields}, "spaces": {"drive"}}
	if orderBy != "" {
		query.Set("orderBy", orderBy)
	}
	var list fileList
	if err := d.getJSON(ctx, "/drive/v3/files", query, &list); err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	return list.Files, nil
}

func (d *Drive) FindOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name=%s and mimeType=%s and trashed=false", quote(name), quote(folderMimeType))
	if parentID != "" {
		q += fmt.Sprintf(" and %s in parents", quote(parentID))
	}
	found, err := d.search(ctx, q, "")
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		return found[0].ID, nil
	}

	meta := map[string]any{"name": name, "mimeType": folderMimeType}
	if parentID != "" {
		meta["parents"] = []string{parentID}
	}
	var created driveFile
	if err := d.sendJSON(ctx, http.MethodPost, "/drive/v3/files", url.Values{"fields": {"id"}}, meta, &created); err != nil {
		return "", fmt.Errorf("creating folder %s: %w", name, err)
	}
	return created.ID, nil
}

func (d *Drive) FindFile(ctx context.Context, name, folderID string) (*mdsync.RemoteFile, error) {
	q := fmt.Sprintf("name=%s and trashed=false", quote(name))
	if folderID != "" {
		q += fmt.Sprintf(" and %s in parents", quote(folderID))
	}
	found, err := d.search(ctx, q, "")
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].ModifiedTime.After(found[j].ModifiedTime)
	})
	return found[0].remote(), nil
}

func (d *Drive) FileStatus(ctx context.Context, id string) (*mdsync.RemoteFile, error) {
	var f driveFile
	if err := d.getJSON(ctx, "/drive/v3/files/"+url.PathEscape(id), url.Values{"fields": {fileFields}}, &f); err != nil {
		return nil, fmt.Errorf("checking file status: %w", err)
	}
	return f.remote(), nil
}

func (d *Drive) Download(ctx context.Context, id string) ([]byte, error) {
	resp, err := d.request(ctx, http.MethodGet, "/drive/v3/files/"+url.PathEscape(id), url.Values{"alt": {"media"}}, "", nil)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}
	return data, nil
}

// Create uploads a new JSON file with a multipart/related body: metadata
// first, then content.
func (d *Drive) Create(ctx context.Context, name, folderID string, data []byte) (*mdsync.RemoteFile, error) {
	meta := map[string]any{"name": name, "mimeType": jsonMimeType}
	if folderID != "" {
		meta["parents"] = []string{folderID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range [][]byte{metaJSON, data} {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", jsonMimeType+"; charset=UTF-8")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("building upload: %w", err)
		}
		if _, err := w.Write(part); err != nil {
			return nil, fmt.Errorf("building upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	query := url.Values{"uploadType": {"multipart"}, "fields": {fileFields}}
	resp, err := d.request(ctx, http.MethodPost, "/upload/drive/v3/files", query, "multipart/related; boundary="+mw.Boundary(), &body)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	defer resp.Body.Close()
	var f driveFile
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding created file: %w", err)
	}
	return f.remote(), nil
}

func (d *Drive) Update(ctx context.Context, id string, data []byte) (*mdsync.RemoteFile, error) {
	query := url.Values{"uploadType": {"media"}, "fields": {fileFields}}
	resp, err := d.request(ctx, http.MethodPatch, "/upload/drive/v3/files/"+url.PathEscape(id), query, jsonMimeType, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("updating file: %w", err)
	}
	defer resp.Body.Close()
	var f driveFile
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding updated file: %w", err)
	}
	return f.remote(), nil
}

func (d *Drive) Copy(ctx context.Context, id, name, folderID string) (*mdsync.RemoteFile, error) {
	meta := map[string]any{"name": name}
	if folderID != "" {
		meta["parents"] = []string{folderID}
	}
	var f driveFile
	path := "/drive/v3/files/" + url.PathEscape(id) + "/copy"
	if err := d.sendJSON(ctx, http.MethodPost, path, url.Values{"fields": {fileFields}}, meta, &f); err != nil {
		return nil, fmt.Errorf("copying to %s: %w", name, err)
	}
	return f.remote(), nil
}

func (d *Drive) List(ctx context.Context, folderID, prefix string) ([]mdsync.RemoteFile, error) {
	q := fmt.Sprintf("%s in parents and trashed=false", quote(folderID))
	if prefix != "" {
		q += fmt.Sprintf(" and name contains %s", quote(prefix))
	}
	found, err := d.search(ctx, q, "name desc")
	if err != nil {
		return nil, err
	}
	// "contains" matches anywhere in the name.
	out := make([]mdsync.RemoteFile, 0, len(found))
	for _, f := range found {
		if strings.HasPrefix(f.Name, prefix) {
			out = append(out, *f.remote())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

func (d *Drive) Delete(ctx context.Context, id string) error {
	resp, err := d.request(ctx, http.MethodDelete, "/drive/v3/files/"+url.PathEscape(id), nil, "", nil)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	resp.Body.Close()
	return nil
}

// UserInfo is the signed-in account.
type UserInfo struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// UserInfo fetches the account behind token.
func (d *Drive) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	scoped := *d
	scoped.token = func() (string, error) { return token, nil }
	var u UserInfo
	if err := scoped.getJSON(ctx, "/oauth2/v2/userinfo", nil, &u); err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	return &u, nil
}

var _ mdsync.CloudBackend = (*Drive)(nil)

// Package webdav implements the minimal WebDAV surface the sync subsystem
// needs: existence probes, collection creation, listings, uploads and
// downloads over plain HTTP(S) with basic authentication.
package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"nexus/internal/credentials"
	"nexus/internal/utils"
)

// Remote collection layout. The application owns everything under
// RemoteRootName on the remote store.
const (
	RemoteRootName    = "Nexus"
	RemoteLiveDir     = "Nexus/live"
	RemoteBackupsDir  = "Nexus/backups"
	LiveStateFilename = "nexus-live-state.zip"
)

const propfindBody = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:displayname/>
    <d:getcontentlength/>
    <d:getcontenttype/>
    <d:getlastmodified/>
    <d:resourcetype/>
  </d:prop>
</d:propfind>`

// RemoteFile describes one non-collection entry of a remote listing.
type RemoteFile struct {
	ID           string // href on the server
	Name         string
	MimeType     string
	ModifiedTime *time.Time
	Size         int64
}

// Client talks to one WebDAV endpoint using credentials from the store.
type Client struct {
	creds   *credentials.Store
	client  *http.Client
	auth    *credentials.Auth
	folders *credentials.Folders
	log     *utils.Logger
}

// New creates a WebDAV client backed by the credential store. The timeout
// applies to every request.
func New(creds *credentials.Store, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Client{
		creds: creds,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		log: utils.GetLogger(),
	}
}

// IsConnected reports whether Connect succeeded this session.
func (c *Client) IsConnected() bool {
	return c.auth != nil && c.auth.Connected
}

// Connect loads the stored credentials and probes the base URL with a
// zero-depth PROPFIND. On success the connected flag is persisted.
func (c *Client) Connect(ctx context.Context) error {
	auth := c.creds.Read()
	if auth == nil || auth.URL == "" || auth.Username == "" || auth.Password == "" {
		return utils.ErrCredentialsNotFound()
	}

	resp, err := c.doRequest(ctx, auth, "PROPFIND", c.baseURL(auth), []byte(propfindBody), "0")
	if err != nil {
		return utils.IOError(err, "webdav probe failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return utils.AuthError("webdav authentication failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return utils.ProtocolError("webdav probe failed with status %d", resp.StatusCode)
	}

	auth.Connected = true
	if err := c.creds.Write(auth); err != nil {
		c.log.Warn("failed to persist connected flag: %v", err)
	}
	c.auth = auth
	c.folders = auth.Folders
	return nil
}

// Disconnect drops the session and persists the disconnected flag.
func (c *Client) Disconnect() error {
	if c.auth == nil {
		return nil
	}
	c.auth.Connected = false
	err := c.creds.Write(c.auth)
	c.auth = nil
	c.folders = nil
	return err
}

// EnsureAppStructure idempotently creates the three-collection remote
// layout (root, live, backups), reusing the cached layout when one was
// already discovered.
func (c *Client) EnsureAppStructure(ctx context.Context) (*credentials.Folders, error) {
	if c.auth == nil {
		return nil, utils.ProtocolError("not connected")
	}
	if c.folders != nil {
		return c.folders, nil
	}

	for _, dir := range []string{RemoteRootName, RemoteLiveDir, RemoteBackupsDir} {
		if err := c.ensureCollection(ctx, dir); err != nil {
			return nil, err
		}
	}

	c.folders = &credentials.Folders{
		RootPath:    RemoteRootName,
		LivePath:    RemoteLiveDir,
		BackupsPath: RemoteBackupsDir,
	}
	c.auth.Folders = c.folders
	if err := c.creds.Write(c.auth); err != nil {
		c.log.Warn("failed to persist remote folder layout: %v", err)
	}
	return c.folders, nil
}

// ensureCollection probes for a collection and creates it only if absent.
// An "already exists" response to MKCOL counts as success.
func (c *Client) ensureCollection(ctx context.Context, remotePath string) error {
	probe, err := c.doRequest(ctx, c.auth, "PROPFIND", c.urlFor(remotePath), []byte(propfindBody), "0")
	if err != nil {
		return utils.IOError(err, "webdav probe failed for %s", remotePath)
	}
	_ = probe.Body.Close()
	if probe.StatusCode < 400 {
		return nil
	}
	if probe.StatusCode != http.StatusNotFound {
		return utils.ProtocolError("webdav probe for %s failed with status %d", remotePath, probe.StatusCode)
	}

	resp, err := c.doRequest(ctx, c.auth, "MKCOL", c.urlFor(remotePath), nil, "")
	if err != nil {
		return utils.IOError(err, "webdav MKCOL failed for %s", remotePath)
	}
	_ = resp.Body.Close()

	// 405 means the collection already exists; racing creators are fine.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
		return utils.ProtocolError("webdav MKCOL for %s failed with status %d", remotePath, resp.StatusCode)
	}
	return nil
}

// ListFiles returns the non-collection entries directly under remotePath.
func (c *Client) ListFiles(ctx context.Context, remotePath string) ([]RemoteFile, error) {
	if c.auth == nil {
		return nil, utils.ProtocolError("not connected")
	}

	resp, err := c.doRequest(ctx, c.auth, "PROPFIND", c.urlFor(remotePath), []byte(propfindBody), "1")
	if err != nil {
		return nil, utils.IOError(err, "webdav listing failed for %s", remotePath)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, utils.ProtocolError("webdav listing for %s failed with status %d", remotePath, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, utils.IOError(err, "failed to read webdav response")
	}

	return parseListing(body, remotePath)
}

// FindFileByName scans a listing for a file with the given name.
func (c *Client) FindFileByName(ctx context.Context, parentPath, name string) (*RemoteFile, error) {
	files, err := c.ListFiles(ctx, parentPath)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].Name == name {
			return &files[i], nil
		}
	}
	return nil, nil
}

// UploadRequest names the file to upload and where to put it.
type UploadRequest struct {
	ParentPath string
	Name       string
	MimeType   string
	FilePath   string
}

// UploadFile streams local file content to <ParentPath>/<Name>.
func (c *Client) UploadFile(ctx context.Context, req UploadRequest) error {
	if c.auth == nil {
		return utils.ProtocolError("not connected")
	}

	f, err := os.Open(req.FilePath)
	if err != nil {
		return utils.IOError(err, "failed to open %s for upload", req.FilePath)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return utils.IOError(err, "failed to stat %s", req.FilePath)
	}

	target := c.urlFor(path.Join(req.ParentPath, req.Name))
	httpReq, err := http.NewRequestWithContext(ctx, "PUT", target, f)
	if err != nil {
		return utils.IOError(err, "failed to build upload request")
	}
	httpReq.SetBasicAuth(c.auth.Username, c.auth.Password)
	httpReq.ContentLength = fi.Size()
	if req.MimeType != "" {
		httpReq.Header.Set("Content-Type", req.MimeType)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return utils.IOError(err, "upload of %s failed", req.Name)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return utils.ProtocolError("upload of %s failed with status %d", req.Name, resp.StatusCode)
	}
	return nil
}

// DownloadFile fetches remotePath and writes it to outputPath, creating
// parent directories.
func (c *Client) DownloadFile(ctx context.Context, remotePath, outputPath string) error {
	if c.auth == nil {
		return utils.ProtocolError("not connected")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.urlFor(remotePath), nil)
	if err != nil {
		return utils.IOError(err, "failed to build download request")
	}
	httpReq.SetBasicAuth(c.auth.Username, c.auth.Password)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return utils.IOError(err, "download of %s failed", remotePath)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return utils.ProtocolError("download of %s failed with status %d", remotePath, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return utils.IOError(err, "failed to create directory for %s", outputPath)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return utils.IOError(err, "failed to create %s", outputPath)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(outputPath)
		return utils.IOError(err, "failed to write %s", outputPath)
	}
	return out.Close()
}

// doRequest performs one authenticated WebDAV request.
func (c *Client) doRequest(ctx context.Context, auth *credentials.Auth, method, target string, body []byte, depth string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(auth.Username, auth.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	if depth != "" {
		req.Header.Set("Depth", depth)
	}

	return c.client.Do(req)
}

// baseURL normalizes the stored endpoint URL.
func (c *Client) baseURL(auth *credentials.Auth) string {
	return strings.TrimSuffix(auth.URL, "/") + "/"
}

// urlFor resolves a remote path against the base URL, escaping each
// segment.
func (c *Client) urlFor(remotePath string) string {
	base := c.baseURL(c.auth)
	segments := strings.Split(strings.Trim(remotePath, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return base + strings.Join(segments, "/")
}

// =============================================================================
// Multi-status XML parsing
// =============================================================================

// resourceType marks collection entries in a listing.
type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// prop holds the requested DAV properties.
type prop struct {
	DisplayName  string       `xml:"displayname"`
	ContentLen   string       `xml:"getcontentlength"`
	ContentType  string       `xml:"getcontenttype"`
	LastModified string       `xml:"getlastmodified"`
	ResourceType resourceType `xml:"resourcetype"`
}

// propStat pairs properties with their status line.
type propStat struct {
	Prop   prop   `xml:"prop"`
	Status string `xml:"status"`
}

// response is one entry of a multi-status body.
type response struct {
	Href     string     `xml:"href"`
	PropStat []propStat `xml:"propstat"`
}

// multiStatus is the top-level multi-status body.
type multiStatus struct {
	Responses []response `xml:"response"`
}

// parseListing extracts the files from a depth-one multi-status response,
// excluding the listed collection itself and any child collections.
func parseListing(body []byte, requestedPath string) ([]RemoteFile, error) {
	var ms multiStatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, utils.ParseError(err, "invalid multi-status response")
	}

	requested := strings.Trim(requestedPath, "/")
	var files []RemoteFile

	for _, resp := range ms.Responses {
		href := strings.TrimSuffix(resp.Href, "/")
		if href == "" {
			continue
		}

		var p *prop
		for i := range resp.PropStat {
			if strings.Contains(resp.PropStat[i].Status, "200") {
				p = &resp.PropStat[i].Prop
				break
			}
		}
		if p == nil || p.ResourceType.Collection != nil {
			continue
		}

		name := p.DisplayName
		if name == "" {
			if unescaped, err := url.PathUnescape(path.Base(href)); err == nil {
				name = unescaped
			} else {
				name = path.Base(href)
			}
		}

		// The listed collection reports itself; it is excluded above as a
		// collection, but guard against servers that omit resourcetype.
		if strings.HasSuffix(strings.Trim(href, "/"), requested) && p.ContentLen == "" && p.ContentType == "" {
			continue
		}

		file := RemoteFile{
			ID:       resp.Href,
			Name:     name,
			MimeType: p.ContentType,
		}
		if p.ContentLen != "" {
			_, _ = fmt.Sscanf(p.ContentLen, "%d", &file.Size)
		}
		if p.LastModified != "" {
			if t, err := http.ParseTime(p.LastModified); err == nil {
				file.ModifiedTime = &t
			}
		}
		files = append(files, file)
	}

	if files == nil {
		files = []RemoteFile{}
	}
	return files, nil
}

package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
)

// fileMetadata is the JSON metadata part sent with uploads. Setting
// mimeType to a Google-native type makes Drive convert the upload on
// arrival instead of storing the raw bytes.
type fileMetadata struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// fileResponse is the subset of the Drive file resource we request.
type fileResponse struct {
	ID string `json:"id"`
}

// User identifies the authenticated account, from the about endpoint.
type User struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"emailAddress"`
}

// aboutResponse wraps the user field of GET /about.
type aboutResponse struct {
	User User `json:"user"`
}

// CreateWithConversion uploads a small file in a single multipart/related
// request, asking Drive to convert it to targetMIME on arrival. Returns the
// ID of the created cloud document. content is buffered into the multipart
// body, so this is only suitable below the resumable threshold; larger
// files go through ResumableUpload.
func (c *Client) CreateWithConversion(
	ctx context.Context, name, sourceMIME, targetMIME string, content io.Reader,
) (string, error) {
	c.logger.Debug("multipart upload with conversion",
		slog.String("name", name),
		slog.String("source_mime", sourceMIME),
		slog.String("target_mime", targetMIME),
	)

	body, contentType, err := buildMultipartBody(name, sourceMIME, targetMIME, content)
	if err != nil {
		return "", err
	}

	uploadURL := c.uploadBaseURL + "/files?uploadType=multipart&fields=id"

	// bytes.Reader is seekable, so the transport retry loop can replay it.
	resp, err := c.doRetry(ctx, http.MethodPost, uploadURL, contentType, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&fr); decErr != nil {
		return "", fmt.Errorf("drive: decoding upload response: %w", decErr)
	}

	if fr.ID == "" {
		return "", fmt.Errorf("drive: upload response missing file id")
	}

	c.logger.Debug("upload complete", slog.String("file_id", fr.ID))

	return fr.ID, nil
}

// buildMultipartBody assembles the two-part multipart/related payload:
// a JSON metadata part followed by the media part.
func buildMultipartBody(name, sourceMIME, targetMIME string, content io.Reader) ([]byte, string, error) {
	meta, err := json.Marshal(fileMetadata{Name: name, MimeType: targetMIME})
	if err != nil {
		return nil, "", fmt.Errorf("drive: marshaling file metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")

	metaPart, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, "", fmt.Errorf("drive: creating metadata part: %w", err)
	}

	if _, err := metaPart.Write(meta); err != nil {
		return nil, "", fmt.Errorf("drive: writing metadata part: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", sourceMIME)

	mediaPart, err := mw.CreatePart(mediaHeader)
	if err != nil {
		return nil, "", fmt.Errorf("drive: creating media part: %w", err)
	}

	if _, err := io.Copy(mediaPart, content); err != nil {
		return nil, "", fmt.Errorf("drive: writing media part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("drive: finalizing multipart body: %w", err)
	}

	contentType := "multipart/related; boundary=" + mw.Boundary()

	return buf.Bytes(), contentType, nil
}

// ExportPDF streams the PDF rendition of a cloud document to w and returns
// the number of bytes written. Drive caps exports at 10 MB of output; an
// oversized document surfaces as an export error from the service.
func (c *Client) ExportPDF(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	c.logger.Debug("exporting as PDF", slog.String("file_id", fileID))

	path := fmt.Sprintf("/files/%s/export?mimeType=%s", url.PathEscape(fileID), url.QueryEscape("application/pdf"))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("drive: streaming export: %w", err)
	}

	c.logger.Debug("export complete",
		slog.String("file_id", fileID),
		slog.Int64("bytes", n),
	)

	return n, nil
}

// Delete removes the cloud document. Drive returns 204 on success.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	c.logger.Debug("deleting cloud document", slog.String("file_id", fileID))

	resp, err := c.Do(ctx, http.MethodDelete, "/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain body to reuse the connection.
	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return fmt.Errorf("drive: draining delete response body: %w", drainErr)
	}

	return nil
}

// About returns the authenticated user from GET /about.
func (c *Client) About(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/about?fields=user", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar aboutResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&ar); decErr != nil {
		return nil, fmt.Errorf("drive: decoding about response: %w", decErr)
	}

	return &ar.User, nil
}

package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// ChunkAlignment is the Drive resumable-upload requirement: every chunk
// except the last must be a multiple of 256 KiB.
const ChunkAlignment = 256 * 1024

// statusResumeIncomplete (308) acknowledges a chunk without completing the
// upload. Go's http.Client does not follow it as a redirect because Drive
// sends no Location header.
const statusResumeIncomplete = 308

// ResumableUpload uploads a large file through a resumable session, asking
// Drive to convert it to targetMIME on arrival, and returns the ID of the
// created cloud document. content must be seekable so an interrupted chunk
// can resume from the last byte the server committed. chunkSize must be a
// multiple of ChunkAlignment.
func (c *Client) ResumableUpload(
	ctx context.Context, name, sourceMIME, targetMIME string,
	content io.ReadSeeker, size, chunkSize int64,
) (string, error) {
	if chunkSize <= 0 || chunkSize%ChunkAlignment != 0 {
		return "", fmt.Errorf("drive: chunk size %d is not a positive multiple of %d", chunkSize, ChunkAlignment)
	}

	sessionURL, err := c.createResumableSession(ctx, name, sourceMIME, targetMIME, size)
	if err != nil {
		return "", err
	}

	c.logger.Debug("resumable session created",
		slog.String("name", name),
		slog.Int64("size", size),
		slog.Int64("chunk_size", chunkSize),
	)

	buf := make([]byte, chunkSize)

	var offset int64

	retried := false

	for offset < size {
		n := min(chunkSize, size-offset)

		if _, seekErr := content.Seek(offset, io.SeekStart); seekErr != nil {
			return "", fmt.Errorf("drive: seeking to offset %d: %w", offset, seekErr)
		}

		if _, readErr := io.ReadFull(content, buf[:n]); readErr != nil {
			return "", fmt.Errorf("drive: reading chunk at offset %d: %w", offset, readErr)
		}

		fileID, committed, chunkErr := c.uploadChunk(ctx, sessionURL, buf[:n], offset, size)
		if chunkErr != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("drive: upload canceled: %w", ctx.Err())
			}

			if retried {
				// Already resumed this chunk once — give up and let the
				// per-file retry policy decide what happens next.
				return "", chunkErr
			}

			// Ask the session how far it got, then resend from there.
			c.logger.Warn("chunk upload failed, querying session for resume",
				slog.Int64("offset", offset),
				slog.String("error", chunkErr.Error()),
			)

			committed, fileID, err = c.querySession(ctx, sessionURL, size)
			if err != nil {
				return "", fmt.Errorf("drive: resuming after chunk failure: %w (chunk error: %v)", err, chunkErr)
			}

			retried = true
		} else {
			retried = false
		}

		if fileID != "" {
			c.logger.Debug("resumable upload complete", slog.String("file_id", fileID))
			return fileID, nil
		}

		offset = committed
	}

	// All bytes sent but no completion response seen (e.g. the final 201 was
	// lost). Query once more for the created file.
	_, fileID, err := c.querySession(ctx, sessionURL, size)
	if err != nil {
		return "", err
	}

	if fileID == "" {
		return "", fmt.Errorf("drive: session reports upload incomplete after all %d bytes sent", size)
	}

	return fileID, nil
}

// createResumableSession opens an upload session and returns its URL from
// the Location header.
func (c *Client) createResumableSession(
	ctx context.Context, name, sourceMIME, targetMIME string, size int64,
) (string, error) {
	meta, err := json.Marshal(fileMetadata{Name: name, MimeType: targetMIME})
	if err != nil {
		return "", fmt.Errorf("drive: marshaling session metadata: %w", err)
	}

	sessionURL := c.uploadBaseURL + "/files?uploadType=resumable&fields=id"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(meta))
	if err != nil {
		return "", fmt.Errorf("drive: creating session request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return "", fmt.Errorf("drive: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", sourceMIME)
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("drive: session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		return "", newAPIError(resp.StatusCode, body)
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("drive: session response missing Location header")
	}

	// Drain body to reuse the connection.
	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return "", fmt.Errorf("drive: draining session response body: %w", drainErr)
	}

	return loc, nil
}

// uploadChunk PUTs one chunk to the session URL. Returns the created file
// ID when the upload completed (200/201), or the next write offset after a
// 308 Resume Incomplete. The session URL is pre-authenticated, so no
// Authorization header is sent.
func (c *Client) uploadChunk(
	ctx context.Context, sessionURL string, chunk []byte, offset, total int64,
) (fileID string, committed int64, err error) {
	contentRange := fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
	if err != nil {
		return "", 0, fmt.Errorf("drive: creating chunk request: %w", err)
	}

	req.Header.Set("Content-Range", contentRange)
	req.Header.Set("User-Agent", c.userAgent)
	req.ContentLength = int64(len(chunk))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("drive: chunk request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.handleSessionResponse(resp, offset+int64(len(chunk)))
}

// querySession asks the session which bytes it has committed, by sending a
// zero-length PUT with "Content-Range: bytes */total". Returns the next
// write offset, or the file ID if the upload already completed.
func (c *Client) querySession(
	ctx context.Context, sessionURL string, total int64,
) (committed int64, fileID string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, http.NoBody)
	if err != nil {
		return 0, "", fmt.Errorf("drive: creating session query: %w", err)
	}

	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("drive: session query failed: %w", err)
	}
	defer resp.Body.Close()

	fileID, committed, err = c.handleSessionResponse(resp, 0)

	return committed, fileID, err
}

// handleSessionResponse interprets a resumable-session response. sent is
// the offset just past the bytes transmitted, used when a 308 carries no
// Range header (the server has everything sent so far).
func (c *Client) handleSessionResponse(resp *http.Response, sent int64) (string, int64, error) {
	switch resp.StatusCode {
	case statusResumeIncomplete:
		committed := sent
		if rng := resp.Header.Get("Range"); rng != "" {
			parsed, err := parseRangeEnd(rng)
			if err != nil {
				return "", 0, err
			}

			committed = parsed
		}

		// Drain body to reuse the connection.
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return "", 0, fmt.Errorf("drive: draining chunk response body: %w", drainErr)
		}

		c.logger.Debug("chunk accepted", slog.Int64("committed", committed))

		return "", committed, nil

	case http.StatusOK, http.StatusCreated:
		var fr fileResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&fr); decErr != nil {
			return "", 0, fmt.Errorf("drive: decoding final chunk response: %w", decErr)
		}

		if fr.ID == "" {
			return "", 0, fmt.Errorf("drive: final chunk response missing file id")
		}

		return fr.ID, sent, nil

	default:
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		return "", 0, newAPIError(resp.StatusCode, body)
	}
}

// parseRangeEnd extracts the next write offset from a session Range header
// of the form "bytes=0-12345" (meaning 12346 bytes are committed).
func parseRangeEnd(rng string) (int64, error) {
	_, after, found := strings.Cut(rng, "-")
	if !found {
		return 0, fmt.Errorf("drive: malformed session Range header %q", rng)
	}

	end, err := strconv.ParseInt(after, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("drive: malformed session Range header %q: %w", rng, err)
	}

	return end + 1, nil
}

package rosterhub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

// addFileToMultipart opens a still file and writes it to the multipart writer.
func addFileToMultipart(writer *multipart.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("could not open file %s: %w", filePath, err)
	}
	defer file.Close()

	fileName := filepath.Base(filePath)
	part, err := writer.CreateFormFile("files", fileName)
	if err != nil {
		return fmt.Errorf("could not create form file: %w", err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("could not copy file data: %w", err)
	}
	return nil
}

// UploadSession pushes a completed session's stills and manifest to the
// roster service. Artifact handles are paths to the stills on local disk.
func (c *Client) UploadSession(ctx context.Context, sessionID, badge string, artifacts []liveness.CapturedImage) error {
	if len(artifacts) == 0 {
		return errors.New("no artifacts to upload")
	}

	manifest := uploadManifest{
		SessionID: sessionID,
		Badge:     badge,
		Artifacts: make([]artifactMeta, 0, len(artifacts)),
	}
	for _, img := range artifacts {
		manifest.Artifacts = append(manifest.Artifacts, artifactMeta{
			SequenceIndex: img.SequenceIndex,
			StepTag:       img.StepTag,
			Handle:        filepath.Base(img.Handle),
			CapturedAt:    img.CapturedAt,
		})
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("could not marshal manifest: %w", err)
	}
	if err := writer.WriteField("manifest", string(manifestJSON)); err != nil {
		return fmt.Errorf("could not write manifest field: %w", err)
	}

	for _, img := range artifacts {
		if err := addFileToMultipart(writer, img.Handle); err != nil {
			return err
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("could not close writer: %w", err)
	}

	url := c.resolveURL("enrollments", sessionID, "upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	return nil
}

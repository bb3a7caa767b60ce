package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/54b3r/ragctx-go/internal/audit"
	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/extract"
	"github.com/54b3r/ragctx-go/internal/logging"
)

// handleAddDocument handles POST /api/contexts/{name}/documents. It accepts
// either a JSON documentRequest with already-extracted text, or a
// multipart/form-data upload whose "file" part is run through the
// extractors (pdf, docx, xlsx, txt, md).
func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var (
		fileName, text string
		err            error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		fileName, text, err = s.readUpload(w, r)
	} else {
		var req documentRequest
		if err = decodeJSON(w, r, &req); err == nil {
			fileName, text = strings.TrimSpace(req.FileName), req.Text
		}
	}
	if err == nil && fileName == "" {
		err = fmt.Errorf("%w: file_name is required", errkind.ErrInput)
	}
	if err == nil && (strings.ContainsAny(fileName, `/\`) || fileName == "." || fileName == "..") {
		err = fmt.Errorf("%w: file_name must be a base name", errkind.ErrInput)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}

	res, err := s.pipeline.IndexText(r.Context(), s.sessions, text, fileName, name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	audit.LogContextChange(logging.FromContext(r.Context()), audit.OpIndex, res.Context, clientIP(r),
		slog.String("file", res.File),
		slog.Int("chunks", res.Chunks),
	)
	writeJSON(w, http.StatusCreated, res)
}

// readUpload reads the "file" part of a multipart request and extracts its
// text according to the file extension.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", "", fmt.Errorf("%w: upload exceeds %d bytes", errkind.ErrInput, tooLarge.Limit)
		}
		return "", "", fmt.Errorf("%w: multipart field \"file\": %v", errkind.ErrInput, err)
	}
	defer file.Close()

	fileName := filepath.Base(header.Filename)
	if !extract.Supported(fileName) {
		return "", "", fmt.Errorf("%w: unsupported file type %q (supported: %s)",
			errkind.ErrInput, filepath.Ext(fileName), strings.Join(extract.Extensions(), ", "))
	}
	content, err := io.ReadAll(file)
	if err != nil {
		return "", "", fmt.Errorf("%w: read upload: %v", errkind.ErrInput, err)
	}
	text, err := extract.Bytes(content, filepath.Ext(fileName))
	if err != nil {
		return "", "", err
	}
	return fileName, text, nil
}

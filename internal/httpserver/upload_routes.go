package httpserver

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/config"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/service"
)

const uploadsPath = "/api/uploads/"

// UploadResponse describes a stored attachment.
type UploadResponse struct {
	FileURL  string             `json:"file_url"`
	Type     domain.MessageType `json:"type"`
	Filename string             `json:"filename"`
}

// UploadRoutes returns a sub-router mounted at /api/uploads that keeps
// attachments on local disk under cfg.UploadDir. Stored names start with
// the uploader's id. A file is readable by its uploader and by the
// participants of any conversation whose messages reference it.
func UploadRoutes(cfg *config.Config, messages *service.MessageService, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	limit := cfg.MaxUploadBytes()

	// Expects multipart/form-data with the file in the "file" field.
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
		if err := r.ParseMultipartForm(limit); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to parse multipart form", Field: "file"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing file", Field: "file"})
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "file must have an extension", Field: "file"})
			return
		}

		mime := header.Header.Get("Content-Type")
		if mime == "" || mime == "application/octet-stream" {
			head := make([]byte, 512)
			n, _ := io.ReadFull(file, head)
			mime = http.DetectContentType(head[:n])
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				writeError(w, r, log, err)
				return
			}
		}

		filename := CurrentUser(r).ID + "_" + uuid.NewString() + ext
		out, err := os.Create(filepath.Join(cfg.UploadDir, filename))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		defer out.Close()

		if _, err := io.Copy(out, file); err != nil {
			writeError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, UploadResponse{
			FileURL:  uploadsPath + filename,
			Type:     domain.TypeForMIME(mime),
			Filename: filename,
		})
	})

	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" || filepath.Base(filename) != filename || strings.HasPrefix(filename, ".") {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid filename"})
			return
		}
		user := CurrentUser(r)
		if !strings.HasPrefix(filename, user.ID+"_") {
			ok, err := messages.CanReadAttachment(r.Context(), user, uploadsPath+filename)
			if err != nil {
				writeError(w, r, log, err)
				return
			}
			if !ok {
				writeJSON(w, http.StatusNotFound, errorBody{Error: "file not found"})
				return
			}
		}
		w.Header().Set("Content-Disposition", "attachment")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeFile(w, r, filepath.Join(cfg.UploadDir, filename))
	})

	return r
}

package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"flowbot/internal/media"
)

// MediaProxyHandler отдает файлы из кэша медиа: /api/media/{category}/{filename}.
func (s *Server) MediaProxyHandler(w http.ResponseWriter, r *http.Request) {
	cat, ok := media.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Unknown media category")
		return
	}
	filename := chi.URLParam(r, "filename")
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		writeJSONError(w, http.StatusBadRequest, "Invalid filename")
		return
	}
	if media.IsHidden(filename) {
		writeJSONError(w, http.StatusNotFound, "File not found")
		return
	}

	filePath, err := s.deps.Cache.Abs(string(cat) + "/" + filename)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid filename")
		return
	}
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSONError(w, http.StatusNotFound, "File not found")
		} else {
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	if fileInfo.IsDir() {
		writeJSONError(w, http.StatusBadRequest, "Not a file")
		return
	}

	w.Header().Set("Content-Type", getContentType(filepath.Ext(filename)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Expires", time.Now().Add(24*time.Hour).Format(http.TimeFormat))
	http.ServeFile(w, r, filePath)
}

// getContentType возвращает MIME-тип на основе расширения файла
func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

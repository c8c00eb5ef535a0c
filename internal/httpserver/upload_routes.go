package httpserver

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"zchat/internal/attachment"
)

func handleUpload(store attachment.Store, maxBytes int64) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		// Expect a multipart/form-data request with file field named "file"
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			writeBadRequest(w, "failed to parse multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeBadRequest(w, "missing file")
			return
		}
		defer file.Close()

		stored, err := store.Put(r.Context(), attachment.Object{
			Reader:      file,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
		})
		if errors.Is(err, attachment.ErrInvalidObject) {
			writeBadRequest(w, err.Error())
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	}
}

func handleServeUpload(disk *attachment.Disk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := disk.Path(chi.URLParam(r, "filename"))
		if err != nil {
			writeBadRequest(w, "invalid filename")
			return
		}
		if _, err := os.Stat(p); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
			return
		}
		http.ServeFile(w, r, p)
	}
}

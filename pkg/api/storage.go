package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyac-dev/hyac/pkg/blob"
)

const downloadURLExpiry = 24 * time.Hour

// storageRoutes is the bucket explorer for the app's private data bucket
func (s *Server) storageRoutes(r chi.Router) {
	r.Post("/list_objects", s.handleStorageList)
	r.Post("/create_folder", s.handleStorageCreateFolder)
	r.Post("/delete_folder", s.handleStorageDeleteFolder)
	r.Post("/delete_file", s.handleStorageDeleteFile)
	r.Post("/upload_file", s.handleStorageUpload)
	r.Post("/download_file", s.handleStorageDownload)
	r.Post("/get_download_url", s.handleStorageDownloadURL)
}

// storageBucket resolves the app and returns its data bucket name
func (s *Server) storageBucket(w http.ResponseWriter, r *http.Request, appID string) (string, bool) {
	app, err := s.store.GetApplication(r.Context(), appID)
	if err != nil {
		failErr(w, err)
		return "", false
	}
	return app.BucketName(), true
}

type objectEntry struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	IsDir        bool      `json:"is_dir"`
}

func (s *Server) handleStorageList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID  string `json:"appId"`
		Prefix string `json:"prefix"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" {
		fail(w, CodeValidation, "appId is required")
		return
	}
	bucket, found := s.storageBucket(w, r, req.AppID)
	if !found {
		return
	}
	objects, err := s.blob.ListDir(r.Context(), bucket, req.Prefix)
	if err != nil {
		failErr(w, err)
		return
	}
	entries := make([]objectEntry, 0, len(objects))
	for _, obj := range objects {
		entries = append(entries, objectEntry{
			Name:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			IsDir:        strings.HasSuffix(obj.Key, "/"),
		})
	}
	ok(w, entries)
}

func (s *Server) handleStorageCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID      string `json:"appId"`
		FolderName string `json:"folder_name"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.FolderName == "" {
		fail(w, CodeValidation, "appId and folder_name are required")
		return
	}
	bucket, found := s.storageBucket(w, r, req.AppID)
	if !found {
		return
	}
	if err := s.blob.CreateFolder(r.Context(), bucket, req.FolderName); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

func (s *Server) handleStorageDeleteFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID      string `json:"appId"`
		FolderName string `json:"folder_name"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.FolderName == "" {
		fail(w, CodeValidation, "appId and folder_name are required")
		return
	}
	bucket, found := s.storageBucket(w, r, req.AppID)
	if !found {
		return
	}
	if err := s.blob.RemoveFolder(r.Context(), bucket, req.FolderName); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

func (s *Server) handleStorageDeleteFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID      string `json:"appId"`
		ObjectName string `json:"object_name"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.ObjectName == "" {
		fail(w, CodeValidation, "appId and object_name are required")
		return
	}
	bucket, found := s.storageBucket(w, r, req.AppID)
	if !found {
		return
	}
	if err := s.blob.Remove(r.Context(), bucket, req.ObjectName); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

// handleStorageUpload streams a multipart file field into the bucket
func (s *Server) handleStorageUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		fail(w, CodeValidation, "invalid multipart form")
		return
	}
	appID := r.FormValue("appId")
	objectName := r.FormValue("object_name")
	if appID == "" || objectName == "" {
		fail(w, CodeValidation, "appId and object_name are required")
		return
	}
	bucket, found := s.storageBucket(w, r, appID)
	if !found {
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		fail(w, CodeValidation, "file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := s.blob.Put(r.Context(), bucket, objectName, file, header.Size, contentType); err != nil {
		failErr(w, err)
		return
	}
	ok(w, map[string]string{"filename": header.Filename})
}

// handleStorageDownload streams the object back with an attachment header.
// This endpoint bypasses the JSON envelope.
func (s *Server) handleStorageDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID      string `json:"appId"`
		ObjectName string `json:"object_name"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.ObjectName == "" {
		fail(w, CodeValidation, "appId and object_name are required")
		return
	}
	bucket, found := s.storageBucket(w, r, req.AppID)
	if !found {
		return
	}
	obj, err := s.blob.Get(r.Context(), bucket, req.ObjectName)
	if err == blob.ErrNotExist {
		fail(w, CodeNotFound, "object not found")
		return
	}
	if err != nil {
		failErr(w, err)
		return
	}
	defer obj.Close()

	name := req.ObjectName
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, obj); err != nil {
		s.logger.Warn().Err(err).Str("object", req.ObjectName).Msg("failed to stream object")
	}
}

func (s *Server) handleStorageDownloadURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID      string `json:"appId"`
		ObjectName string `json:"object_name"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.ObjectName == "" {
		fail(w, CodeValidation, "appId and object_name are required")
		return
	}
	bucket, found := s.storageBucket(w, r, req.AppID)
	if !found {
		return
	}
	url, err := s.blob.PresignedGet(r.Context(), bucket, req.ObjectName, downloadURLExpiry)
	if err == blob.ErrNotExist {
		fail(w, CodeNotFound, "object not found")
		return
	}
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, map[string]string{"url": url})
}

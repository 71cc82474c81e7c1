package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStorageValidation tests the input checks across the explorer endpoints
func TestStorageValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		body map[string]string
	}{
		{name: "list without appId", path: "/storage/list_objects", body: map[string]string{}},
		{name: "create_folder without name", path: "/storage/create_folder", body: map[string]string{"appId": "abcdefgh"}},
		{name: "delete_folder without name", path: "/storage/delete_folder", body: map[string]string{"appId": "abcdefgh"}},
		{name: "delete_file without object", path: "/storage/delete_file", body: map[string]string{"appId": "abcdefgh"}},
		{name: "download without object", path: "/storage/download_file", body: map[string]string{"appId": "abcdefgh"}},
		{name: "download url without object", path: "/storage/get_download_url", body: map[string]string{"appId": "abcdefgh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := post(t, srv, tt.path, tt.body)
			assert.Equal(t, CodeValidation, env.Code)
		})
	}
}

// TestStorageUnknownApp tests that every endpoint refuses foreign app ids
func TestStorageUnknownApp(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{
		"/storage/list_objects",
		"/storage/delete_file",
		"/storage/get_download_url",
	} {
		env := post(t, srv, path, map[string]string{
			"appId": "ghost", "object_name": "a.txt", "folder_name": "dir",
		})
		assert.Equal(t, CodeNotFound, env.Code, path)
	}
}

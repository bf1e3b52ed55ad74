package storage

import "context"

type UploadRequest struct {
	SessionID   string
	Path        string
	ContentType string
}

type UploadResult struct {
	Provider string
	Key      string
	URL      string
}

// Uploader moves a sealed recording off the worker host. Implementations
// must be safe to call once per session after cleanup.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
}

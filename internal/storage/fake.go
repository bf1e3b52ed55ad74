package storage

import (
	"context"
	"path/filepath"
	"sync"
)

// FakeUploader records uploads in memory; the returned URL points back at
// the local file so downstream consumers still resolve.
type FakeUploader struct {
	mu       sync.Mutex
	uploaded []UploadRequest
}

func NewFakeUploader() *FakeUploader {
	return &FakeUploader{}
}

func (f *FakeUploader) Upload(_ context.Context, req UploadRequest) (UploadResult, error) {
	f.mu.Lock()
	f.uploaded = append(f.uploaded, req)
	f.mu.Unlock()
	return UploadResult{
		Provider: "fake",
		Key:      req.SessionID + "/" + filepath.Base(req.Path),
		URL:      "file://" + req.Path,
	}, nil
}

func (f *FakeUploader) Uploaded() []UploadRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UploadRequest(nil), f.uploaded...)
}

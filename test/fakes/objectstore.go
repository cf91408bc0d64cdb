package fakes

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"hlsflow/internal/repository/storage"
)

// ObjectStore is an in-memory storage.ObjectStore. DownloadErrs and PutErrs
// are returned, in order, by the next calls before normal behavior resumes.
type ObjectStore struct {
	mu           sync.Mutex
	Objects      map[string][]byte
	ContentTypes map[string]string

	DownloadErrs  []error
	PutErrs       []error
	DeleteErr     error
	DownloadCalls int
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{Objects: map[string][]byte{}, ContentTypes: map[string]string{}}
}

func (s *ObjectStore) Download(_ context.Context, key, dst string) (int64, error) {
	s.mu.Lock()
	s.DownloadCalls++
	if len(s.DownloadErrs) > 0 {
		err := s.DownloadErrs[0]
		s.DownloadErrs = s.DownloadErrs[1:]
		s.mu.Unlock()
		return 0, err
	}
	body, ok := s.Objects[key]
	s.mu.Unlock()

	if !ok {
		return 0, storage.ErrNotFound
	}
	if err := os.WriteFile(dst, body, 0o644); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

func (s *ObjectStore) Upload(ctx context.Context, key, src, contentType string) error {
	body, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, body, contentType)
}

func (s *ObjectStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PutErrs) > 0 {
		err := s.PutErrs[0]
		s.PutErrs = s.PutErrs[1:]
		if err != nil {
			return err
		}
	}
	s.Objects[key] = append([]byte(nil), body...)
	s.ContentTypes[key] = contentType
	return nil
}

func (s *ObjectStore) Delete(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	for _, k := range keys {
		delete(s.Objects, k)
		delete(s.ContentTypes, k)
	}
	return nil
}

func (s *ObjectStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys := s.Keys(prefix)
	if err := s.Delete(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Keys lists stored keys under prefix, sorted.
func (s *ObjectStore) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.Objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *ObjectStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.Objects[key]
	return string(body), ok
}

var ErrAccessDenied = errors.New("AccessDenied: transient")

var _ storage.ObjectStore = (*ObjectStore)(nil)

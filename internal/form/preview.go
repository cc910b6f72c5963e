package form

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/raine/local-market-estimator/internal/estimate"
)

// Preview is a transient handle to the bytes of a selected image. It stays
// resolvable until released.
type Preview struct {
	ID        string
	Digest    string
	MIMEType  string
	Data      []byte
	CreatedAt time.Time
}

// PreviewStore holds the previews of every live form.
type PreviewStore struct {
	mu       sync.RWMutex
	previews map[string]*Preview
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{previews: make(map[string]*Preview)}
}

// Digest returns the hex blake2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Acquire registers a new preview for img.
func (s *PreviewStore) Acquire(img estimate.Image) *Preview {
	p := &Preview{
		ID:        uuid.NewString(),
		Digest:    Digest(img.Data),
		MIMEType:  img.MIMEType,
		Data:      img.Data,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.previews[p.ID] = p
	s.mu.Unlock()
	return p
}

// Get resolves a preview id.
func (s *PreviewStore) Get(id string) (*Preview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.previews[id]
	return p, ok
}

// Release drops a preview. Releasing an unknown id is a no-op.
func (s *PreviewStore) Release(id string) {
	s.mu.Lock()
	delete(s.previews, id)
	s.mu.Unlock()
}

// Len returns the number of live previews.
func (s *PreviewStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.previews)
}

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// QuestionStore persists the final question records of a document. Upserts are keyed by question
// number, so re-running a document overwrites rather than duplicates.
type QuestionStore interface {
	UpsertQuestions(ctx context.Context, docID string, meta models.Metadata, records []models.QuestionRecord) error
}

// AssetKey identifies one image asset of a question.
type AssetKey = models.AssetKey

// AssetStore stores the image assets of one document and returns their references. A nil data
// slice reserves the key without content.
type AssetStore interface {
	Put(ctx context.Context, key AssetKey, data []byte, contentType string) (string, error)
}

// AssetStoreFactory scopes an asset store to a document.
type AssetStoreFactory func(docID string) AssetStore

// MemoryQuestionStore keeps questions in memory. It is used by the CLI and tests.
type MemoryQuestionStore struct {
	mu   sync.Mutex
	docs map[string]map[int]models.QuestionRecord
	meta map[string]models.Metadata
}

func NewMemoryQuestionStore() *MemoryQuestionStore {
	return &MemoryQuestionStore{
		docs: map[string]map[int]models.QuestionRecord{},
		meta: map[string]models.Metadata{},
	}
}

func (s *MemoryQuestionStore) UpsertQuestions(ctx context.Context, docID string, meta models.Metadata, records []models.QuestionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok {
		doc = map[int]models.QuestionRecord{}
		s.docs[docID] = doc
	}
	for _, q := range records {
		doc[q.QuestionNumber] = q.Clone()
	}
	s.meta[docID] = meta
	return nil
}

// Questions returns the stored questions of a document in question order.
func (s *MemoryQuestionStore) Questions(docID string) []models.QuestionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QuestionRecord
	for _, q := range s.docs[docID] {
		out = append(out, q.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionNumber < out[j].QuestionNumber })
	return out
}

// MemoryAssetStore keeps assets in memory, keyed by "docID/name".
type MemoryAssetStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryAssetStore() *MemoryAssetStore {
	return &MemoryAssetStore{objects: map[string][]byte{}}
}

// ForDocument returns the store scoped to docID.
func (s *MemoryAssetStore) ForDocument(docID string) AssetStore {
	return &memoryDocumentAssets{store: s, docID: docID}
}

// Object returns a stored asset by reference.
func (s *MemoryAssetStore) Object(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[ref]
	return data, ok
}

// Refs lists every stored reference in order.
func (s *MemoryAssetStore) Refs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]string, 0, len(s.objects))
	for ref := range s.objects {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

type memoryDocumentAssets struct {
	store *MemoryAssetStore
	docID string
}

func (d *memoryDocumentAssets) Put(ctx context.Context, key AssetKey, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("mem://%s/%s", d.docID, key.Name())
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	d.store.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

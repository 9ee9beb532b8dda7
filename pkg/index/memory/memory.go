// Package memory provides in-process keyword and vector indexes. They suit
// single-replica deployments and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

type failure struct {
	errMu sync.RWMutex
	err   error
}

// SetError makes every call fail with err until it is reset with nil.
func (f *failure) SetError(err error) {
	f.errMu.Lock()
	f.err = err
	f.errMu.Unlock()
}

func (f *failure) check() error {
	f.errMu.RLock()
	defer f.errMu.RUnlock()
	return f.err
}

// KeywordIndex scores by query term overlap.
type KeywordIndex struct {
	failure
	mu   sync.RWMutex
	docs map[string]string
}

// NewKeywordIndex creates an empty KeywordIndex.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{docs: make(map[string]string)}
}

// Name implements index.Backend.
func (*KeywordIndex) Name() string { return "memory" }

// Upsert implements index.KeywordIndexService.
func (k *KeywordIndex) Upsert(_ context.Context, id, text string, _ index.Metadata) error {
	if err := k.check(); err != nil {
		return err
	}
	k.mu.Lock()
	k.docs[id] = text
	k.mu.Unlock()
	return nil
}

// Remove implements index.KeywordIndexService.
func (k *KeywordIndex) Remove(_ context.Context, id string) error {
	if err := k.check(); err != nil {
		return err
	}
	k.mu.Lock()
	delete(k.docs, id)
	k.mu.Unlock()
	return nil
}

// Score implements index.KeywordIndexService.
func (k *KeywordIndex) Score(_ context.Context, query string, candidateIDs []string) (map[string]float64, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]float64)
	for _, id := range candidateIDs {
		text, ok := k.docs[id]
		if !ok {
			continue
		}
		if s := index.TermOverlap(query, text); s > 0 {
			out[id] = s
		}
	}
	return out, nil
}

// Has reports whether id is indexed.
func (k *KeywordIndex) Has(id string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.docs[id]
	return ok
}

// Len returns the number of indexed documents.
func (k *KeywordIndex) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.docs)
}

type vectorDoc struct {
	vec  []float32
	meta index.Metadata
}

// VectorIndex ranks by cosine similarity with a linear scan.
type VectorIndex struct {
	failure
	mu   sync.RWMutex
	docs map[string]vectorDoc
}

// NewVectorIndex creates an empty VectorIndex.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{docs: make(map[string]vectorDoc)}
}

// Name implements index.Backend.
func (*VectorIndex) Name() string { return "memory" }

// Upsert implements index.VectorIndexService.
func (v *VectorIndex) Upsert(_ context.Context, id string, vector []float32, meta index.Metadata) error {
	if err := v.check(); err != nil {
		return err
	}
	v.mu.Lock()
	v.docs[id] = vectorDoc{vec: slices.Clone(vector), meta: meta}
	v.mu.Unlock()
	return nil
}

// Remove implements index.VectorIndexService.
func (v *VectorIndex) Remove(_ context.Context, id string) error {
	if err := v.check(); err != nil {
		return err
	}
	v.mu.Lock()
	delete(v.docs, id)
	v.mu.Unlock()
	return nil
}

// Search implements index.VectorIndexService.
func (v *VectorIndex) Search(_ context.Context, vector []float32, f index.Filter, limit int) ([]index.ScoredID, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	var out []index.ScoredID
	for id, d := range v.docs {
		if !matches(d.meta, f) {
			continue
		}
		out = append(out, index.ScoredID{ID: id, Score: index.Certainty(index.Cosine(vector, d.vec))})
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Has reports whether id is indexed.
func (v *VectorIndex) Has(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.docs[id]
	return ok
}

// Len returns the number of indexed vectors.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.docs)
}

func matches(m index.Metadata, f index.Filter) bool {
	if f.ProjectID != "" && m.ProjectID != f.ProjectID {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, m.Kind) {
		return false
	}
	if f.ModuleID != "" && m.ModuleID != f.ModuleID {
		return false
	}
	if f.AppVersionID != "" && m.AppVersionID != f.AppVersionID {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	return true
}

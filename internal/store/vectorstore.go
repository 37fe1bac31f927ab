package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/coder/hnsw"
)

// VectorStoreConfig describes one embedder's vector geometry (spec §3
// Vectors: "per configured embedder, each document owns zero or more
// embedding vectors").
type VectorStoreConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int
	EfSearch   int
	Quantized  bool // carried per SPEC_FULL.md §5; unquantized f32 only is implemented
}

// VectorMatch is one nearest-neighbor result: an internal document id and
// its similarity score from distanceToScore: in [0, 1] for cosine, in
// (0, 1] for l2.
type VectorMatch struct {
	DocID uint32
	Score float32
}

// VectorIndex implements the spec's assumed external vector-NN collaborator
// (insert, delete, nns_by_vector) for a single embedder, backed by
// coder/hnsw's pure-Go HNSW graph (teacher's internal/store/hnsw.go,
// generalized from string-keyed chunk ids to uint32 internal document ids
// and from a single global index to one graph per embedder).
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint32]
	config VectorStoreConfig

	// Lazy deletion: coder/hnsw becomes unstable when the last node of the
	// graph is physically removed, so deletes only clear the liveness bit
	// and orphaned nodes are filtered out of search results.
	live map[uint32]struct{}
}

// NewVectorIndex creates an empty per-embedder HNSW index.
func NewVectorIndex(cfg VectorStoreConfig) *VectorIndex {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint32]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		config: cfg,
		live:   make(map[uint32]struct{}),
	}
}

// Insert adds or replaces the vector for docID (spec §3: "insert").
func (vi *VectorIndex) Insert(docID uint32, vector []float32) error {
	if len(vector) != vi.config.Dimensions {
		return fmt.Errorf("store: vector dimension mismatch: expected %d, got %d", vi.config.Dimensions, len(vector))
	}

	vi.mu.Lock()
	defer vi.mu.Unlock()

	vec := append([]float32(nil), vector...)
	if vi.config.Metric == "cos" {
		normalizeVectorInPlace(vec)
	}

	// Re-inserting an existing docID passes the new vector to graph.Add
	// under the same key and marks the id live again; no separate delete
	// of the old node is made first.
	vi.graph.Add(hnsw.MakeNode(docID, vec))
	vi.live[docID] = struct{}{}
	return nil
}

// Delete removes docID's vector (spec §3: "delete"). Uses lazy deletion.
func (vi *VectorIndex) Delete(docID uint32) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	delete(vi.live, docID)
	return nil
}

// NNSByVector returns up to k nearest neighbors to query, restricted to
// candidates when non-nil (spec's assumed `nns_by_vector(query, k,
// candidates)`, used by the vector_sort ranking rule to intersect with the
// current universe without a second pass, spec §4.9).
func (vi *VectorIndex) NNSByVector(query []float32, k int, candidates *roaring.Bitmap) ([]VectorMatch, error) {
	if len(query) != vi.config.Dimensions {
		return nil, fmt.Errorf("store: query vector dimension mismatch: expected %d, got %d", vi.config.Dimensions, len(query))
	}

	vi.mu.RLock()
	defer vi.mu.RUnlock()

	if vi.graph.Len() == 0 {
		return nil, nil
	}

	q := append([]float32(nil), query...)
	if vi.config.Metric == "cos" {
		normalizeVectorInPlace(q)
	}

	// Over-fetch to absorb candidates filtering and lazily-deleted orphans.
	fetch := k * 4
	if fetch < k+16 {
		fetch = k + 16
	}
	if fetch > vi.graph.Len() {
		fetch = vi.graph.Len()
	}

	nodes := vi.graph.Search(q, fetch)
	matches := make([]VectorMatch, 0, k)
	for _, node := range nodes {
		if _, ok := vi.live[node.Key]; !ok {
			continue
		}
		if candidates != nil && !candidates.Contains(node.Key) {
			continue
		}
		distance := vi.graph.Distance(q, node.Value)
		matches = append(matches, VectorMatch{
			DocID: node.Key,
			Score: distanceToScore(distance, vi.config.Metric),
		})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

// Len returns the number of live vectors.
func (vi *VectorIndex) Len() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return len(vi.live)
}

// vectorIndexMetadata is the persisted shape of an VectorIndex's id
// liveness set, saved alongside the graph export.
type vectorIndexMetadata struct {
	Live   map[uint32]struct{}
	Config VectorStoreConfig
}

// Save persists the graph and liveness set with tempfile+rename atomicity
// (spec §5 "Atomic file publication").
func (vi *VectorIndex) Save(path string) error {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create vector index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("store: create vector index file: %w", err)
	}
	if err := vi.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: export vector graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: publish vector index file: %w", err)
	}

	return vi.saveMetadata(path + ".meta")
}

func (vi *VectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("store: create vector metadata file: %w", err)
	}

	meta := vectorIndexMetadata{Live: vi.live, Config: vi.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: encode vector metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Load restores a previously saved graph and liveness set.
func (vi *VectorIndex) Load(path string) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("store: open vector metadata: %w", err)
	}
	defer metaFile.Close()

	var meta vectorIndexMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("store: decode vector metadata: %w", err)
	}
	vi.live = meta.Live
	vi.config = meta.Config

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("store: open vector index file: %w", err)
	}
	defer file.Close()

	if err := vi.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("store: import vector graph: %w", err)
	}
	return nil
}

// VectorStore manages one VectorIndex per configured embedder (spec §3
// "per embedder... vector store handle").
type VectorStore struct {
	mu        sync.RWMutex
	embedders map[string]*VectorIndex
}

// NewVectorStore creates an empty multi-embedder vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{embedders: make(map[string]*VectorIndex)}
}

// Embedder returns (creating if absent) the index for the named embedder.
func (s *VectorStore) Embedder(name string, cfg VectorStoreConfig) *VectorIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.embedders[name]
	if !ok {
		idx = NewVectorIndex(cfg)
		s.embedders[name] = idx
	}
	return idx
}

// RemoveEmbedder drops an embedder's index entirely, e.g. when settings
// remove an embedder configuration.
func (s *VectorStore) RemoveEmbedder(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.embedders, name)
}

// EmbedderNames lists configured embedders.
func (s *VectorStore) EmbedderNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.embedders))
	for name := range s.embedders {
		names = append(names, name)
	}
	return names
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts an HNSW distance into a [0,1]-ish similarity
// score; the ranking rule applies its own DistributionShift on top.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}

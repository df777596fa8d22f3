package index

// Record is a single vector to store, with its image metadata payload.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]any // filename, category, blob_url, uploaded_at, ...
}

// Hit is a single search or fetch result.
type Hit struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Vector   []float32         `json:"-"`
	Filename string            `json:"filename"`
	Category string            `json:"category"`
	BlobURL  string            `json:"blob_url"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// SearchParams tunes a nearest-neighbour query.
type SearchParams struct {
	TopK        int
	MinScore    float32
	Category    string // optional keyword filter
	WithVectors bool   // return raw vectors for re-ranking
}

// Stats summarises the collection.
type Stats struct {
	TotalVectors uint64 `json:"total_vector_count"`
}

package models

// Chunk represents a span of text from one source file
type Chunk struct {
	Content        string
	SourceFilename string
	ChunkID        int
}

type ChunkEmbedding struct {
	Content        string
	Embedding      []float32
	SourceFilename string
	ChunkID        int
}

type SearchResult struct {
	Content        string  `json:"content"`
	SourceFilename string  `json:"source"`
	ChunkID        int     `json:"chunk_id"`
	Score          float32 `json:"score"`
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
	Sources []SearchResult
}

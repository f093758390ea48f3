package pipeline

import "errors"

var (
	// ErrChunkerRequired is returned when no chunker is provided.
	ErrChunkerRequired = errors.New("chunker is required")
	// ErrEmbedderRequired is returned when no embedding client is provided.
	ErrEmbedderRequired = errors.New("embedding client is required")
	// ErrStoreRequired is returned when no vector store is provided.
	ErrStoreRequired = errors.New("vector store is required")
	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")
)

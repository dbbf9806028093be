package analysis

import "context"

// Repository port (persistence of analysis records)
type Repository interface {
	Save(ctx context.Context, r *Record) error
	ListHistory(ctx context.Context, f HistoryFilter) ([]*Record, error)
}

// BlobStore port (storage of the submitted image)
type BlobStore interface {
	Write(ctx context.Context, data []byte, filename string) (string, error)
	// Delete removes a blob previously written under filename. A missing blob is not an error.
	Delete(ctx context.Context, filename string) error
}

// Normalizer port (image size/quality compression)
type Normalizer interface {
	Normalize(data []byte) (NormalizedImage, error)
}

package index

import (
	"context"

	"github.com/starford/tagledger/internal/settings"
)

// TagIndex defines the interface for tag detail indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type TagIndex interface {
	settings.Persister
	UpsertFile(ctx context.Context, f FileRow, tags []TagRow) error
	DeleteFile(ctx context.Context, path string) error
	GetChecksum(ctx context.Context, path string) (string, error)
	AllChecksums(ctx context.Context) (map[string]string, error)
	ListByTag(ctx context.Context, tag string) ([]TagRow, error)
	Search(ctx context.Context, query string, limit int) ([]TagRow, error)
	Flag(ctx context.Context, path, reason string) error
	ListFlagged(ctx context.Context) ([]ReviewItem, error)
	ClearFlag(ctx context.Context, path string) (bool, error)
	Close() error
}

// Verify *DB satisfies TagIndex at compile time.
var _ TagIndex = (*DB)(nil)

package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Store.Read when no state exists for an item.
var ErrNotFound = errors.New("state not found")

// Store keeps serialized snapshots keyed by script item ID.
//
// Implementations must be safe for concurrent use. Remove of a missing
// item is not an error.
type Store interface {
	Read(ctx context.Context, itemID uuid.UUID) ([]byte, error)
	Write(ctx context.Context, itemID uuid.UUID, data []byte) error
	Remove(ctx context.Context, itemID uuid.UUID) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend     string
	DataDir     string
	SQLitePath  string
	PostgresDSN string
}

// Open creates the Store named by opts.Backend. An empty backend means
// BackendFile.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.DataDir)
	case BackendSQLite:
		return OpenSQLite(opts.SQLitePath)
	case BackendPostgres:
		return OpenPostgres(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}

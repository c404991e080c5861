package ports

import "context"

// ObjectStore is the low-level remote blob client. Keys are always a pure
// function of the local identifier (see stem.RemoteKey), never chosen
// independently.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

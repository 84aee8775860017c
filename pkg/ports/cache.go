package ports

import "context"

// Cache memoizes node results keyed by a content hash of the node's name and
// input values. A miss is (nil, false, nil); errors are reserved for backend
// failures, which the engine treats as misses after logging.
type Cache interface {
	Get(ctx context.Context, key string) (map[string]any, bool, error)
	Set(ctx context.Context, key string, outputs map[string]any) error
}

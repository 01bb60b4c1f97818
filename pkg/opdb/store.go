package opdb

import "context"

// Store persists operational state across daemon restarts. Values are
// opaque to the store; each namespace owns its own encoding.
type Store interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Load(ctx context.Context, namespace string, fn LoadFunc) error
	Count(ctx context.Context, namespace string) (int, error)
	Clear(ctx context.Context, namespace string) error
	Close() error
}

type LoadFunc func(key string, value []byte) error

const (
	NamespaceRelayRecords = "relay_records"
	NamespaceFPMPrefixes  = "fpm_prefixes"
)

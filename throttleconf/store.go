package throttleconf

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/grpchost/errors"
)

// Store reads the stored limits document. Revision increases on every write,
// so callers can skip re-parsing unchanged documents.
type Store interface {
	Get(ctx context.Context) (value []byte, revision uint64, err error)
}

// KVStore reads limits from a JetStream KV bucket
type KVStore struct {
	nc     *nats.Conn
	bucket jetstream.KeyValue
	key    string
}

// NewKVStore connects to NATS and opens the bucket holding the limits
func NewKVStore(ctx context.Context, url, bucket, key string) (*KVStore, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "throttleconf", "NewKVStore", "connect to NATS")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.WrapFatal(err, "throttleconf", "NewKVStore", "create JetStream context")
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		nc.Close()
		if goerrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrBucketNotFound, bucket),
				"throttleconf", "NewKVStore", "open bucket")
		}
		return nil, errors.WrapTransient(err, "throttleconf", "NewKVStore", "open bucket")
	}

	return &KVStore{nc: nc, bucket: kv, key: key}, nil
}

// Get reads the current limits document
func (s *KVStore) Get(ctx context.Context) ([]byte, uint64, error) {
	entry, err := s.bucket.Get(ctx, s.key)
	if err != nil {
		if goerrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, fmt.Errorf("%w: %s", errors.ErrKeyNotFound, s.key)
		}
		return nil, 0, errors.WrapTransient(err, "throttleconf", "Get", "read key "+s.key)
	}
	return entry.Value(), entry.Revision(), nil
}

// Close releases the NATS connection
func (s *KVStore) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

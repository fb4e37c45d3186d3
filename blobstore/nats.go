package blobstore

import (
	"context"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/bookrec/errors"
)

// ObjectStore is a Store backed by a NATS JetStream Object Store bucket.
type ObjectStore struct {
	bucket jetstream.ObjectStore
}

// NewObjectStore wraps a JetStream object store bucket.
func NewObjectStore(bucket jetstream.ObjectStore) *ObjectStore {
	return &ObjectStore{bucket: bucket}
}

// Get retrieves the blob stored under key.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, key)
	if err != nil {
		if err == jetstream.ErrObjectNotFound {
			return nil, errors.WrapContent(errors.ErrDocumentNotFound, "ObjectStore", "Get", "lookup "+key)
		}
		return nil, errors.WrapTransient(err, "ObjectStore", "Get", "get object "+key)
	}
	return data, nil
}

// Put stores data under key, replacing any previous object.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.bucket.PutBytes(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "ObjectStore", "Put", "put object "+key)
	}
	return nil
}

// List returns object names under prefix in lexical order.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.bucket.List(ctx)
	if err != nil {
		if err == jetstream.ErrNoObjectsFound {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "ObjectStore", "List", "list objects")
	}

	var keys []string
	for _, info := range infos {
		if strings.HasPrefix(info.Name, prefix) {
			keys = append(keys, info.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

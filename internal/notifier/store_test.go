package notifier

import (
	"context"

	"schedscaler/internal/storage"
)

// fakeStore satisfies storage.Store with in-memory dedup only.
type fakeStore struct {
	memDedup
}

func (*fakeStore) AppendScale(context.Context, storage.ScaleRecord) error { return nil }
func (*fakeStore) Close() error                                           { return nil }

var _ storage.Store = (*fakeStore)(nil)

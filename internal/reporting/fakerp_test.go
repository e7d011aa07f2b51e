package reporting

import (
	"testing"

	"rpreport/internal/rp/rptest"
)

type fakeRP struct {
	*rptest.Server
}

func newFakeRP(t *testing.T) *fakeRP {
	t.Helper()
	return &fakeRP{Server: rptest.NewServer(t)}
}

func (f *fakeRP) session(t *testing.T, opts ...Option) *Session {
	t.Helper()
	return New(f.Project(t), opts...)
}

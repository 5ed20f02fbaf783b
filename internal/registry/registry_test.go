// File: internal/registry/registry_test.go
package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// fakeProvider is a minimal schemas.Provider for registry tests.
type fakeProvider struct {
	id       string
	closed   bool
	closeErr error
}

func (f *fakeProvider) ID() string                       { return f.id }
func (f *fakeProvider) Describe() string                 { return "fake provider " + f.id }
func (f *fakeProvider) Variants() []schemas.ActionVariant { return nil }
func (f *fakeProvider) Execute(_ context.Context, _ *schemas.ChosenAction) (*schemas.Observation, error) {
	return &schemas.Observation{Provider: f.id}, nil
}
func (f *fakeProvider) Close(_ context.Context) error {
	f.closed = true
	return f.closeErr
}

func newTestRegistry(ids ...string) (*Registry, []*fakeProvider) {
	r := New(zap.NewNop())
	fakes := make([]*fakeProvider, 0, len(ids))
	for _, id := range ids {
		f := &fakeProvider{id: id}
		fakes = append(fakes, f)
		r.Register(f)
	}
	return r, fakes
}

func TestFirstRegisteredProviderIsActive(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry("terminal", "browser")
	assert.Equal(t, "terminal", r.ActiveID())
	require.NotNil(t, r.Active())
	assert.Equal(t, "terminal", r.Active().ID())
}

func TestSwitch(t *testing.T) {
	t.Parallel()

	t.Run("switches to a registered provider", func(t *testing.T) {
		t.Parallel()
		r, _ := newTestRegistry("terminal", "browser")

		p, err := r.Switch("browser")
		require.NoError(t, err)
		assert.Equal(t, "browser", p.ID())
		assert.Equal(t, "browser", r.ActiveID())
	})

	t.Run("unknown id fails and leaves active unchanged", func(t *testing.T) {
		t.Parallel()
		r, _ := newTestRegistry("terminal", "browser")

		_, err := r.Switch("editor")
		var unknownErr *schemas.UnknownProviderError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, "editor", unknownErr.ID)
		assert.ElementsMatch(t, []string{"browser", "terminal"}, unknownErr.Registered)
		assert.Equal(t, "terminal", r.ActiveID(), "failed switch must not move the active pointer")
	})
}

func TestIDsAreSorted(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry("terminal", "browser", "echo")
	assert.Equal(t, []string{"browser", "echo", "terminal"}, r.IDs())
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	t.Run("closes every provider", func(t *testing.T) {
		t.Parallel()
		r, fakes := newTestRegistry("terminal", "browser")

		require.NoError(t, r.CloseAll(context.Background()))
		for _, f := range fakes {
			assert.True(t, f.closed, "provider %s should be closed", f.id)
		}
	})

	t.Run("propagates close errors", func(t *testing.T) {
		t.Parallel()
		r, fakes := newTestRegistry("terminal", "browser")
		fakes[1].closeErr = errors.New("session teardown failed")

		err := r.CloseAll(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session teardown failed")
		assert.True(t, fakes[0].closed, "remaining providers still close")
	})
}

package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	r := require.New(t)

	base := errors.New("dial tcp: refused")
	err := fmt.Errorf("snapshot: %w", Wrap(Connection, "connect to materialize", base))

	r.Equal(Connection, KindOf(err))
	r.True(Is(err, Connection))
	r.False(Is(err, Conversion))
	r.ErrorIs(err, base)
	r.Equal("connection: connect to materialize: dial tcp: refused", errors.Unwrap(err).Error())
}

func TestKindOfUntyped(t *testing.T) {
	r := require.New(t)

	r.Equal(Internal, KindOf(errors.New("boom")))
	r.False(Is(nil, Internal))
	r.Equal("not_implemented: publish", New(NotImplemented, "publish").Error())
	r.Equal("invalid_target: bad name \"a;b\"", Newf(InvalidTarget, "bad name %q", "a;b").Error())
}

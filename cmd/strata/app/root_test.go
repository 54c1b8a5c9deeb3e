package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"user", strataerrors.New(strataerrors.KindUser, errors.New("bad target")), 1},
		{"timeout", strataerrors.New(strataerrors.KindTimeout, errors.New("deadline")), 1},
		{"io", strataerrors.New(strataerrors.KindIO, errors.New("disk full")), 1},
		{"engine", strataerrors.New(strataerrors.KindEngine, errors.New("invariant broken")), 1},
		{"cancelled", strataerrors.New(strataerrors.KindCancelled, errors.New("ctx done")), 137},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}

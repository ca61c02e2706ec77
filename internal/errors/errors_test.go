package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	cases := map[string]struct {
		err      error
		category Category
		want     string
	}{
		"git recoverable wraps message": {
			err:      errors.New("worktree is dirty"),
			category: GitRecoverable,
			want:     "worktree is dirty",
		},
		"nil error wraps to nil": {
			err:      nil,
			category: SystemFault,
			want:     "",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := Wrap(tc.err, tc.category)
			if tc.err == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tc.want, got.Error())
			assert.Equal(t, tc.category, got.Category)
		})
	}
}

func TestWrapWithMessage(t *testing.T) {
	got := WrapWithMessage(errors.New("429 too many requests"), AgentTransient, "executor call failed")
	assert.Equal(t, "executor call failed: 429 too many requests", got.Error())
}

func TestIsAndAs(t *testing.T) {
	ce := New(AgentHard, "could not parse review verdict")
	assert.True(t, Is(ce, AgentHard))
	assert.False(t, Is(ce, GitFatal))
	assert.Same(t, ce, As(ce))
	assert.Nil(t, As(errors.New("plain error")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(AgentTransient))
	for _, c := range []Category{ClientFault, AgentHard, GitBenign, GitRecoverable, GitFatal, SystemFault} {
		assert.False(t, Retryable(c))
	}
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "Agent Transient", AgentTransient.String())
	assert.Equal(t, "Git Fatal", GitFatal.String())
}

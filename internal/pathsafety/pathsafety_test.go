package pathsafety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUnder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "projects", "demo"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".ssh"), 0o755))

	cases := map[string]struct {
		path    string
		wantErr bool
	}{
		"existing path inside root is allowed": {
			path: filepath.Join(root, "projects", "demo"),
		},
		"not-yet-created path under an existing dir is allowed": {
			path: filepath.Join(root, "projects", "demo", "worktree-1"),
		},
		"denylisted subtree is rejected": {
			path:    filepath.Join(root, ".ssh", "id_ed25519"),
			wantErr: true,
		},
		"escaping the root is rejected": {
			path:    filepath.Join(root, "..", "outside"),
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := validateUnder(tc.path, root)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestValidateUsesRealHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := Validate(home)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

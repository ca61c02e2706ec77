package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a git repository under t.TempDir(), with one commit,
// matching the teacher's real-repo (not mocked) testing style.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	runGit := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	runGit("init")
	runGit("config", "user.email", "test@test.com")
	runGit("config", "user.name", "Test User")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	runGit("add", ".")
	runGit("commit", "-m", "initial commit")

	return dir
}

func TestIsGitRepo(t *testing.T) {
	dir := initTestRepo(t)
	assert.True(t, IsGitRepo(dir))
	assert.False(t, IsGitRepo(t.TempDir()))
}

func TestCurrentBranch(t *testing.T) {
	dir := initTestRepo(t)
	branch, err := CurrentBranch(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, branch)
}

func TestCreateBranch(t *testing.T) {
	dir := initTestRepo(t)

	require.NoError(t, CreateBranch(dir, "feature/widgets", ""))
	branch, err := CurrentBranch(dir)
	require.NoError(t, err)
	assert.Equal(t, "feature/widgets", branch)

	err = CreateBranch(dir, "feature/widgets", "")
	var branchErr *BranchError
	require.ErrorAs(t, err, &branchErr)
	assert.Equal(t, BranchExists, branchErr.Kind)
}

func TestCommitAndResetHard(t *testing.T) {
	dir := initTestRepo(t)

	_, err := Commit(dir, "nothing changed")
	assert.ErrorIs(t, err, ErrNoChanges)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("data"), 0o644))
	result, err := Commit(dir, "add new file")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Hash)
	assert.Equal(t, 1, result.FilesChanged)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("dirty"), 0o644))
	require.NoError(t, ResetHard(dir))
	data, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestCreateAndRemoveWorktree(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()
	// Worktree paths are only accepted inside the home directory.
	t.Setenv("HOME", filepath.Dir(dir))

	path, err := CreateWorktree(ctx, dir, "spec-123", "spec-123-branch")
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.Contains(t, filepath.Base(path), "spec-123")

	require.NoError(t, RemoveWorktree(ctx, dir, path))
	assert.NoDirExists(t, path)
}

func TestGenerateBranchName(t *testing.T) {
	name := GenerateBranchName("Add Widgets Support!!")
	assert.Contains(t, name, "specwright/add-widgets-support")

	// Deterministic: same title always produces the same branch name.
	assert.Equal(t, name, GenerateBranchName("Add Widgets Support!!"))

	long := GenerateBranchName("this is an extremely long spec title that goes well beyond the slug length bound we enforce")
	assert.LessOrEqual(t, len(long), len("specwright/")+maxBranchSlugLen+1+6)
}

func TestGitHubCLIAvailable(t *testing.T) {
	// Deterministic given the host's PATH; just exercise the code path.
	_ = GitHubCLIAvailable()
}

// installFakeGh puts an executable named "gh" at the front of PATH that
// mimics the subcommands OpenPR drives: `auth status`, which succeeds as
// for a logged-in user, `pr create`, which prints only the new PR's URL to
// stdout (gh's real behavior; it takes no --json flag), and
// `pr view --json number`, which prints the matching JSON.
func installFakeGh(t *testing.T, url string, number int) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake gh fixture assumes a POSIX shell")
	}

	dir := t.TempDir()
	script := fmt.Sprintf(`#!/bin/sh
case "$1 $2" in
  "auth status")
    exit 0
    ;;
  "pr create")
    echo %q
    ;;
  "pr view")
    echo '{"number": %d}'
    ;;
  *)
    echo "unsupported fake gh invocation: $*" >&2
    exit 1
    ;;
esac
`, url, number)
	path := filepath.Join(dir, "gh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestOpenPRParsesURLAndFetchesNumberViaView(t *testing.T) {
	dir := initTestRepo(t)
	installFakeGh(t, "https://github.com/acme/widgets/pull/42", 42)

	pr, err := OpenPR(context.Background(), dir, "Add widgets", "Automated chunk run.", "main")
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "https://github.com/acme/widgets/pull/42", pr.URL)
}

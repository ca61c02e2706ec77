// Package gitops wraps every git and GitHub operation a Spec's lifecycle
// needs: branch creation, worktree isolation, commit/reset, push, and PR
// creation. Read-only and branch operations go through go-git; anything
// go-git cannot do (worktree add/remove, commit, push, gh CLI) shells out
// via os/exec with discrete argument slices, never an interpolated shell
// string, so branch names and commit messages pass through byte-for-byte.
package gitops

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/specwright/specwright/internal/pathsafety"
)

// ErrNoChanges is returned by Commit when nothing was staged. It is a
// benign terminal outcome, not a failure.
var ErrNoChanges = errors.New("gitops: nothing to commit")

// BranchErrorKind classifies why CreateBranch failed.
type BranchErrorKind int

const (
	// BranchExists means a branch with that name is already present.
	BranchExists BranchErrorKind = iota
	// BranchDirty means the repository has uncommitted changes that would
	// be lost by creating and checking out the branch.
	BranchDirty
	// BranchOther covers every other git failure.
	BranchOther
)

// BranchError is a typed error from CreateBranch.
type BranchError struct {
	Kind BranchErrorKind
	Name string
	Err  error
}

func (e *BranchError) Error() string {
	switch e.Kind {
	case BranchExists:
		return fmt.Sprintf("branch %q already exists", e.Name)
	case BranchDirty:
		return fmt.Sprintf("cannot create branch %q: working tree is dirty", e.Name)
	default:
		return fmt.Sprintf("creating branch %q: %v", e.Name, e.Err)
	}
}

func (e *BranchError) Unwrap() error { return e.Err }

func openRepo(dir string) (*git.Repository, error) {
	return git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
}

// IsGitRepo reports whether dir is inside a git repository.
func IsGitRepo(dir string) bool {
	_, err := openRepo(dir)
	return err == nil
}

// CurrentBranch returns the name of the currently checked-out branch in
// dir, or "" if HEAD is detached.
func CurrentBranch(dir string) (string, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("getting HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// CreateBranch creates and checks out a new branch named name starting
// from base (empty means HEAD).
func CreateBranch(dir, name, base string) error {
	repo, err := openRepo(dir)
	if err != nil {
		return &BranchError{Kind: BranchOther, Name: name, Err: err}
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(branchRef, false); err == nil {
		return &BranchError{Kind: BranchExists, Name: name}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return &BranchError{Kind: BranchOther, Name: name, Err: err}
	}

	var startHash plumbing.Hash
	if base != "" {
		baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
		if err != nil {
			return &BranchError{Kind: BranchOther, Name: name, Err: fmt.Errorf("resolving base branch %q: %w", base, err)}
		}
		startHash = baseRef.Hash()
	} else {
		head, err := repo.Head()
		if err != nil {
			return &BranchError{Kind: BranchOther, Name: name, Err: err}
		}
		startHash = head.Hash()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return &BranchError{Kind: BranchOther, Name: name, Err: err}
	}

	err = wt.Checkout(&git.CheckoutOptions{
		Hash:   startHash,
		Branch: branchRef,
		Create: true,
		Keep:   true,
	})
	if err != nil {
		if isDirtyCheckoutError(err) {
			return &BranchError{Kind: BranchDirty, Name: name, Err: err}
		}
		return &BranchError{Kind: BranchOther, Name: name, Err: err}
	}
	return nil
}

func isDirtyCheckoutError(err error) bool {
	return strings.Contains(err.Error(), "non-empty") || strings.Contains(err.Error(), "modified")
}

// Checkout checks out an existing branch by name.
func Checkout(dir, name string) error {
	repo, err := openRepo(dir)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name)}); err != nil {
		return fmt.Errorf("checking out %q: %w", name, err)
	}
	return nil
}

// CreateWorktree adds a new git worktree for branch in projectDir's parent
// directory (a sibling of the project), returning its path. The directory name embeds specID and a creation
// timestamp to guarantee uniqueness across retries.
func CreateWorktree(ctx context.Context, projectDir, specID, branch string) (string, error) {
	path, err := worktreePathFor(projectDir, specID)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-B", branch, path)
	cmd.Dir = projectDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git worktree add: %w: %s", err, stderr.String())
	}
	return path, nil
}

func worktreePathFor(projectDir, specID string) (string, error) {
	parent := filepath.Dir(projectDir)
	dirName := fmt.Sprintf("%s-%d", specID, nowUnixNano())
	path := filepath.Join(parent, dirName)
	validated, err := pathsafety.Validate(path)
	if err != nil {
		return "", fmt.Errorf("validating worktree path: %w", err)
	}
	return validated, nil
}

var nowUnixNano = func() int64 { return time.Now().UnixNano() }

// RemoveWorktree removes a worktree by path.
func RemoveWorktree(ctx context.Context, projectDir, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = projectDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git worktree remove: %w: %s", err, stderr.String())
	}
	return nil
}

// CommitResult describes a successful commit.
type CommitResult struct {
	Hash         string
	FilesChanged int
}

// Commit stages everything under dir and commits with message. If nothing
// is staged, it returns ErrNoChanges.
func Commit(dir, message string) (*CommitResult, error) {
	addCmd := exec.Command("git", "add", "-A")
	addCmd.Dir = dir
	if out, err := addCmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git add: %w: %s", err, out)
	}

	statusCmd := exec.Command("git", "status", "--porcelain")
	statusCmd.Dir = dir
	statusOut, err := statusCmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(statusOut), "\n"), "\n")
	changed := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			changed++
		}
	}
	if changed == 0 {
		return nil, ErrNoChanges
	}

	commitCmd := exec.Command("git", "commit", "-m", message)
	commitCmd.Dir = dir
	if out, err := commitCmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git commit: %w: %s", err, out)
	}

	hashCmd := exec.Command("git", "rev-parse", "HEAD")
	hashCmd.Dir = dir
	hashOut, err := hashCmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git rev-parse HEAD: %w", err)
	}

	return &CommitResult{Hash: strings.TrimSpace(string(hashOut)), FilesChanged: changed}, nil
}

// ResetHard discards all uncommitted changes in dir.
func ResetHard(dir string) error {
	cmd := exec.Command("git", "reset", "--hard")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git reset --hard: %w: %s", err, out)
	}
	return nil
}

// PushBranch pushes branch to origin, setting upstream.
func PushBranch(ctx context.Context, dir, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "push", "-u", "origin", branch)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git push: %w: %s", err, stderr.String())
	}
	return nil
}

// PullRequest describes an opened pull request.
type PullRequest struct {
	Number int
	URL    string
}

// GitHubCLIAvailable reports whether the gh CLI is installed and
// authenticated (`gh auth status` succeeds), gating OpenPR the way the
// teacher's health/prereqs checks gate external tool availability before
// relying on it.
func GitHubCLIAvailable() bool {
	if _, err := exec.LookPath("gh"); err != nil {
		return false
	}
	return exec.Command("gh", "auth", "status").Run() == nil
}

// prNumberFromURL extracts the trailing numeric segment of a PR URL
// (".../pull/123" -> 123), gh's own naming convention for PR URLs.
var prNumberFromURL = regexp.MustCompile(`/(\d+)/?$`)

// OpenPR opens a pull request via the gh CLI, returning its number and URL.
// `gh pr create` does not accept --json: it prints the new PR's URL to
// stdout on success. The number is fetched with a follow-up `gh pr view
// --json number` against the now-current branch, falling back to parsing
// the trailing digits off the URL itself if that call fails.
func OpenPR(ctx context.Context, dir, title, body, base string) (*PullRequest, error) {
	if !GitHubCLIAvailable() {
		return nil, errors.New("gitops: gh CLI not available")
	}

	args := []string{"pr", "create", "--title", title, "--body", body}
	if base != "" {
		args = append(args, "--base", base)
	}

	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gh pr create: %w: %s", err, stderr.String())
	}

	url := lastNonEmptyLine(stdout.String())
	if url == "" {
		return nil, errors.New("gitops: gh pr create produced no URL")
	}

	if number, ok := prNumberViaView(ctx, dir); ok {
		return &PullRequest{Number: number, URL: url}, nil
	}

	m := prNumberFromURL.FindStringSubmatch(url)
	if m == nil {
		return nil, fmt.Errorf("gitops: could not determine PR number from %q", url)
	}
	number, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("gitops: parsing PR number from %q: %w", url, err)
	}
	return &PullRequest{Number: number, URL: url}, nil
}

// prNumberViaView asks gh for the number of the PR associated with dir's
// current branch, the one just opened by OpenPR.
func prNumberViaView(ctx context.Context, dir string) (int, bool) {
	cmd := exec.CommandContext(ctx, "gh", "pr", "view", "--json", "number")
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, false
	}
	var result struct {
		Number int `json:"number"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return 0, false
	}
	return result.Number, true
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line
		}
	}
	return ""
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// maxBranchSlugLen bounds the slug portion of a generated branch name so
// that even a long spec title produces a reasonable git ref.
const maxBranchSlugLen = 48

// GenerateBranchName deterministically slugifies a spec title into a
// branch name of the form specwright/<slug>-<hash>, the hash suffix
// guaranteeing uniqueness across specs with colliding titles.
func GenerateBranchName(specTitle string) string {
	lower := strings.ToLower(specTitle)
	slug := nonSlug.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxBranchSlugLen {
		slug = strings.Trim(slug[:maxBranchSlugLen], "-")
	}
	if slug == "" {
		slug = "spec"
	}
	return fmt.Sprintf("specwright/%s-%s", slug, hashSuffix(specTitle))
}

func hashSuffix(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:6]
}

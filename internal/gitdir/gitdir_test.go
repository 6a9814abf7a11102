package gitdir

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/writerlock/internal/testutil"
)

type fakeExecutor struct {
	out  string
	err  error
	dir  string
	args []string
}

func (f *fakeExecutor) Output(dir string, name string, args ...string) ([]byte, error) {
	f.dir = dir
	f.args = append([]string{name}, args...)
	return []byte(f.out), f.err
}

func TestResolver_CommonDir(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		out     string
		err     error
		want    string
		wantErr bool
	}{
		{name: "absolute path", dir: "/work/repo", out: "/work/repo/.git\n", want: "/work/repo/.git"},
		{name: "relative path from old git", dir: "/work/repo/sub", out: "../.git\n", want: "/work/repo/.git"},
		{name: "linked worktree", dir: "/work/wt", out: "/work/repo/.git\n", want: "/work/repo/.git"},
		{name: "git fails", dir: "/tmp", err: errors.New("exit status 128"), wantErr: true},
		{name: "empty output", dir: "/work/repo", out: "\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeExecutor{out: tt.out, err: tt.err}
			got, err := NewResolverWithExecutor(fake).CommonDir(tt.dir)

			if tt.wantErr {
				if !errors.Is(err, ErrNotGitRepository) {
					t.Fatalf("CommonDir() error = %v, want ErrNotGitRepository", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CommonDir() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("CommonDir() = %q, want %q", got, tt.want)
			}
			if fake.dir != tt.dir {
				t.Errorf("ran in %q, want %q", fake.dir, tt.dir)
			}
		})
	}
}

func TestCommonDir_RealRepository(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repo := testutil.SetupTestRepo(t)
	sub := filepath.Join(repo, "nested")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	got, err := CommonDir(sub)
	if err != nil {
		t.Fatalf("CommonDir failed: %v", err)
	}

	want := testutil.ResolvePath(t, filepath.Join(repo, ".git"))
	if resolved := testutil.ResolvePath(t, got); resolved != want {
		t.Errorf("CommonDir() = %q, want %q", resolved, want)
	}
}

func TestCommonDir_WorktreesShareRoot(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repo := testutil.SetupTestRepo(t)
	wt := testutil.AddWorktree(t, repo, "feature")

	fromRepo, err := CommonDir(repo)
	if err != nil {
		t.Fatalf("CommonDir(repo) failed: %v", err)
	}
	fromWorktree, err := CommonDir(wt)
	if err != nil {
		t.Fatalf("CommonDir(worktree) failed: %v", err)
	}

	if testutil.ResolvePath(t, fromRepo) != testutil.ResolvePath(t, fromWorktree) {
		t.Errorf("worktree common dir %q differs from repository's %q", fromWorktree, fromRepo)
	}
}

func TestCommonDir_NotARepository(t *testing.T) {
	testutil.SkipIfNoGit(t)
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(t.TempDir()))

	_, err := CommonDir(t.TempDir())
	if !errors.Is(err, ErrNotGitRepository) {
		t.Errorf("CommonDir() error = %v, want ErrNotGitRepository", err)
	}
}

package transaction

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"primamateria.systems/alembic/internal/notify"
	"primamateria.systems/alembic/internal/prefix"
	"primamateria.systems/alembic/internal/temp"
)

func newTx(t *testing.T) (*Transaction, prefix.InstallPrefix, *notify.Recorder) {
	t.Helper()
	p := prefix.FromPath(filepath.Join(t.TempDir(), "prefix"))
	require.NoError(t, os.MkdirAll(p.Path(), 0o755))
	tmp, err := temp.NewArea(filepath.Join(t.TempDir(), "tmp"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tmp.Close() })
	rec := &notify.Recorder{}
	return New(p, tmp, rec), p, rec
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// snapshot maps every path under root to its content, or "<dir>" for directories.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	result := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			result[rel] = "<dir>"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		result[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return result
}

func TestAddFile(t *testing.T) {
	tests := []struct {
		name     string
		rollback bool
	}{
		{name: "commit", rollback: false},
		{name: "rollback", rollback: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, p, _ := newTx(t)
			f, err := tx.AddFile("c", "foo/bar")
			require.NoError(t, err)
			_, err = f.WriteString("test")
			require.NoError(t, err)
			require.NoError(t, f.Close())

			if tt.rollback {
				require.NoError(t, tx.Rollback())
				assert.NoFileExists(t, p.Abs("foo/bar"))
				assert.NoDirExists(t, p.Abs("foo"))
				return
			}
			require.NoError(t, tx.Commit())
			assert.Equal(t, "test", readFile(t, p.Abs("foo/bar")))
		})
	}
}

func TestCreateConflicts(t *testing.T) {
	tests := []struct {
		name string
		op   func(tx *Transaction, src string) error
	}{
		{
			name: "add file",
			op: func(tx *Transaction, _ string) error {
				_, err := tx.AddFile("c", "foo/bar")
				return err
			},
		},
		{
			name: "copy file",
			op: func(tx *Transaction, src string) error {
				return tx.CopyFile("c", "foo/bar", filepath.Join(src, "file"))
			},
		},
		{
			name: "copy dir",
			op: func(tx *Transaction, src string) error {
				return tx.CopyDir("c", "foo/bar", filepath.Join(src, "dir"))
			},
		},
		{
			name: "write file",
			op: func(tx *Transaction, _ string) error {
				return tx.WriteFile("c", "foo/bar", []byte("data"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, p, _ := newTx(t)
			src := t.TempDir()
			writeFile(t, filepath.Join(src, "file"), "src")
			writeFile(t, filepath.Join(src, "dir", "inner"), "src")
			writeFile(t, p.Abs("foo/bar"), "")

			err := tt.op(tx, src)
			var conflict *ComponentConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, "c", conflict.Name)
			assert.Equal(t, "foo/bar", conflict.Path)
			assert.Equal(t, 0, tx.Pending())
			require.NoError(t, tx.Rollback())
			assert.Equal(t, "", readFile(t, p.Abs("foo/bar")))
		})
	}
}

func TestCopyFile(t *testing.T) {
	tx, p, _ := newTx(t)
	src := filepath.Join(t.TempDir(), "src")
	writeFile(t, src, "file contents")

	require.NoError(t, tx.CopyFile("c", "foo/bar", src))
	assert.Equal(t, "file contents", readFile(t, p.Abs("foo/bar")))
	require.NoError(t, tx.Commit())
	assert.Equal(t, "file contents", readFile(t, p.Abs("foo/bar")))
	assert.FileExists(t, src)
}

func TestCopyDir(t *testing.T) {
	tests := []struct {
		name     string
		rollback bool
	}{
		{name: "commit", rollback: false},
		{name: "rollback", rollback: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, p, _ := newTx(t)
			src := t.TempDir()
			writeFile(t, filepath.Join(src, "foo"), "file1")
			writeFile(t, filepath.Join(src, "bar"), "file2")
			writeFile(t, filepath.Join(src, "baz", "bar"), "file3")
			require.NoError(t, os.Symlink("foo", filepath.Join(src, "link")))

			require.NoError(t, tx.CopyDir("c", "a", src))
			if tt.rollback {
				require.NoError(t, tx.Rollback())
				assert.NoDirExists(t, p.Abs("a"))
				return
			}
			require.NoError(t, tx.Commit())
			assert.Equal(t, "file1", readFile(t, p.Abs("a/foo")))
			assert.Equal(t, "file2", readFile(t, p.Abs("a/bar")))
			assert.Equal(t, "file3", readFile(t, p.Abs("a/baz/bar")))
			link, err := os.Readlink(p.Abs("a/link"))
			require.NoError(t, err)
			assert.Equal(t, "foo", link)
		})
	}
}

func TestCopyDirKeepsLinksAndModes(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "bin", "tool"), "#!/bin/sh")
	require.NoError(t, os.Chmod(filepath.Join(src, "bin", "tool"), 0o755))
	require.NoError(t, os.Symlink("bin/tool", filepath.Join(src, "tool")))
	require.NoError(t, os.Symlink("missing", filepath.Join(src, "dangling")))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, copyDir(src, dst))

	info, err := os.Stat(filepath.Join(dst, "bin", "tool"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	tests := []struct {
		link   string
		target string
	}{
		{link: "tool", target: "bin/tool"},
		{link: "dangling", target: "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			got, err := os.Readlink(filepath.Join(dst, tt.link))
			require.NoError(t, err)
			assert.Equal(t, tt.target, got)
		})
	}
}

func TestRemoveFile(t *testing.T) {
	tests := []struct {
		name     string
		rollback bool
	}{
		{name: "commit", rollback: false},
		{name: "rollback", rollback: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, p, _ := newTx(t)
			writeFile(t, p.Abs("foo"), "keep me")

			require.NoError(t, tx.RemoveFile("c", "foo"))
			assert.NoFileExists(t, p.Abs("foo"))
			if tt.rollback {
				require.NoError(t, tx.Rollback())
				assert.Equal(t, "keep me", readFile(t, p.Abs("foo")))
				return
			}
			require.NoError(t, tx.Commit())
			assert.NoFileExists(t, p.Abs("foo"))
		})
	}
}

func TestRemoveMissing(t *testing.T) {
	tx, p, _ := newTx(t)
	require.NoError(t, os.MkdirAll(p.Abs("somedir"), 0o755))
	writeFile(t, p.Abs("somefile"), "")

	var missingFile *ComponentMissingFileError
	err := tx.RemoveFile("c", "foo")
	require.ErrorAs(t, err, &missingFile)
	assert.Equal(t, "c", missingFile.Name)
	assert.Equal(t, "foo", missingFile.Path)
	assert.ErrorAs(t, tx.RemoveFile("c", "somedir"), &missingFile)

	var missingDir *ComponentMissingDirError
	err = tx.RemoveDir("c", "foo")
	require.ErrorAs(t, err, &missingDir)
	assert.Equal(t, "c", missingDir.Name)
	assert.Equal(t, "foo", missingDir.Path)
	assert.ErrorAs(t, tx.RemoveDir("c", "somefile"), &missingDir)
}

func TestRemoveDir(t *testing.T) {
	tests := []struct {
		name     string
		rollback bool
	}{
		{name: "commit", rollback: false},
		{name: "rollback", rollback: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, p, _ := newTx(t)
			writeFile(t, p.Abs("foo/bar"), "inner")

			require.NoError(t, tx.RemoveDir("c", "foo"))
			assert.NoDirExists(t, p.Abs("foo"))
			if tt.rollback {
				require.NoError(t, tx.Rollback())
				assert.Equal(t, "inner", readFile(t, p.Abs("foo/bar")))
				return
			}
			require.NoError(t, tx.Commit())
			assert.NoDirExists(t, p.Abs("foo"))
		})
	}
}

func TestWriteFile(t *testing.T) {
	tx, p, _ := newTx(t)
	require.NoError(t, tx.WriteFile("c", "foo/bar", []byte("test")))
	require.NoError(t, tx.Commit())
	assert.Equal(t, "test", readFile(t, p.Abs("foo/bar")))
}

func TestModifyFile(t *testing.T) {
	tests := []struct {
		name     string
		initial  *string
		writes   []string
		rollback bool
		want     *string
	}{
		{
			name:     "missing then commit",
			writes:   nil,
			rollback: false,
			want:     nil,
		},
		{
			name:     "missing then written and rolled back",
			writes:   []string{"wow"},
			rollback: true,
			want:     nil,
		},
		{
			name:     "existing then commit",
			initial:  ptr("wow"),
			rollback: false,
			want:     ptr("wow"),
		},
		{
			name:     "existing then rollback",
			initial:  ptr("wow"),
			writes:   []string{"eww"},
			rollback: true,
			want:     ptr("wow"),
		},
		{
			name:     "twice then rollback keeps earliest",
			initial:  ptr("wow"),
			writes:   []string{"eww", "ewww"},
			rollback: true,
			want:     ptr("wow"),
		},
		{
			name:     "twice then commit",
			initial:  ptr("wow"),
			writes:   []string{"eww", "ewww"},
			rollback: false,
			want:     ptr("ewww"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, p, _ := newTx(t)
			path := p.Abs("dir/foo")
			if tt.initial != nil {
				writeFile(t, path, *tt.initial)
			}
			require.NoError(t, tx.ModifyFile("dir/foo"))
			assert.DirExists(t, p.Abs("dir"))
			if tt.initial == nil {
				assert.NoFileExists(t, path)
			}
			for _, w := range tt.writes {
				require.NoError(t, tx.ModifyFile("dir/foo"))
				require.NoError(t, os.WriteFile(path, []byte(w), 0o644))
			}
			if tt.rollback {
				require.NoError(t, tx.Rollback())
			} else {
				require.NoError(t, tx.Commit())
			}
			if tt.want == nil {
				assert.NoFileExists(t, path)
				return
			}
			assert.Equal(t, *tt.want, readFile(t, path))
		})
	}
}

func ptr(s string) *string {
	return &s
}

func doMultipleOps(t *testing.T, rollback bool) {
	tx, p, _ := newTx(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "file"), "copied")
	writeFile(t, filepath.Join(src, "dir", "a"), "a")
	writeFile(t, p.Abs("remove/me"), "removed")
	writeFile(t, p.Abs("removedir/inner"), "inner")
	writeFile(t, p.Abs("modify"), "original")
	before := snapshot(t, p.Path())

	f, err := tx.AddFile("c", "add/file")
	require.NoError(t, err)
	_, err = f.WriteString("added")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, tx.CopyFile("c", "copy/file", filepath.Join(src, "file")))
	require.NoError(t, tx.CopyDir("c", "copy/dir", filepath.Join(src, "dir")))
	require.NoError(t, tx.WriteFile("c", "write/file", []byte("written")))
	require.NoError(t, tx.RemoveFile("c", "remove/me"))
	require.NoError(t, tx.RemoveDir("c", "removedir"))
	require.NoError(t, tx.ModifyFile("modify"))
	require.NoError(t, os.WriteFile(p.Abs("modify"), []byte("changed"), 0o644))
	require.NoError(t, tx.ModifyFile("new/modify"))
	require.NoError(t, os.WriteFile(p.Abs("new/modify"), []byte("created"), 0o644))

	if rollback {
		require.NoError(t, tx.Rollback())
		assert.Equal(t, before, snapshot(t, p.Path()))
		return
	}
	require.NoError(t, tx.Commit())
	assert.Equal(t, "added", readFile(t, p.Abs("add/file")))
	assert.Equal(t, "copied", readFile(t, p.Abs("copy/file")))
	assert.Equal(t, "a", readFile(t, p.Abs("copy/dir/a")))
	assert.Equal(t, "written", readFile(t, p.Abs("write/file")))
	assert.NoFileExists(t, p.Abs("remove/me"))
	assert.NoDirExists(t, p.Abs("removedir"))
	assert.Equal(t, "changed", readFile(t, p.Abs("modify")))
	assert.Equal(t, "created", readFile(t, p.Abs("new/modify")))
}

func TestMultipleOpTransaction(t *testing.T) {
	doMultipleOps(t, false)
}

func TestMultipleOpTransactionThenRollback(t *testing.T) {
	doMultipleOps(t, true)
}

func TestRollbackFailureKeepsGoing(t *testing.T) {
	tx, p, rec := newTx(t)
	for _, name := range []string{"foo", "bar", "baz"} {
		require.NoError(t, tx.WriteFile("", name, nil))
	}
	require.NoError(t, os.Remove(p.Abs("bar")))

	err := tx.Rollback()
	assert.Error(t, err)
	assert.NoFileExists(t, p.Abs("foo"))
	assert.NoFileExists(t, p.Abs("baz"))
	assert.True(t, rec.Has(notify.KindRollbackFailed))
}

func TestIntermediateDirRollback(t *testing.T) {
	tx, p, _ := newTx(t)
	require.NoError(t, tx.WriteFile("c", "a/b/c/d", []byte("deep")))
	require.NoError(t, tx.Rollback())
	assert.NoDirExists(t, p.Abs("a"))
	assert.Equal(t, map[string]string{".": "<dir>"}, snapshot(t, p.Path()))
}

func TestClosedTransaction(t *testing.T) {
	tx, p, _ := newTx(t)
	require.NoError(t, tx.WriteFile("c", "foo", []byte("x")))
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Commit(), ErrTransactionClosed)
	assert.ErrorIs(t, tx.WriteFile("c", "bar", nil), ErrTransactionClosed)
	assert.ErrorIs(t, tx.ModifyFile("foo"), ErrTransactionClosed)
	// a deferred rollback after commit changes nothing
	assert.NoError(t, tx.Rollback())
	assert.FileExists(t, p.Abs("foo"))
	assert.Equal(t, 0, tx.Pending())
}

func TestInvalidPath(t *testing.T) {
	tx, _, _ := newTx(t)
	tests := []string{"../escape", "/etc/passwd", ""}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			assert.ErrorIs(t, tx.WriteFile("c", path, nil), ErrInvalidPath)
			assert.ErrorIs(t, tx.ModifyFile(path), ErrInvalidPath)
			assert.ErrorIs(t, tx.RemoveFile("c", path), ErrInvalidPath)
		})
	}
}

func TestPrefixCreated(t *testing.T) {
	tests := []struct {
		name   string
		commit bool
	}{
		{"commit", true},
		{"rollback", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := prefix.FromPath(filepath.Join(t.TempDir(), "does", "not", "exist"))
			tmp, err := temp.NewArea(t.TempDir())
			require.NoError(t, err)
			defer func() { _ = tmp.Close() }()
			tx := New(p, tmp, nil)
			require.NoError(t, tx.WriteFile("c", "bin/tool", []byte("#!/bin/sh")))
			if tt.commit {
				require.NoError(t, tx.Commit())
				assert.FileExists(t, p.Abs("bin/tool"))
				return
			}
			require.NoError(t, tx.Rollback())
			assert.NoDirExists(t, p.Path())
			// ancestors above the prefix are left in place
			assert.DirExists(t, filepath.Dir(p.Path()))
		})
	}
}

func TestSettle(t *testing.T) {
	failing := errors.New("install failed")

	t.Run("committed", func(t *testing.T) {
		tx, p, _ := newTx(t)
		err := func() (err error) {
			defer tx.Settle(&err)
			if err := tx.WriteFile("c", "foo", []byte("x")); err != nil {
				return err
			}
			return tx.Commit()
		}()
		require.NoError(t, err)
		assert.FileExists(t, p.Abs("foo"))
	})

	t.Run("rolled back", func(t *testing.T) {
		tx, p, _ := newTx(t)
		err := func() (err error) {
			defer tx.Settle(&err)
			require.NoError(t, tx.WriteFile("c", "foo", []byte("x")))
			return failing
		}()
		assert.Equal(t, failing, err)
		assert.NoFileExists(t, p.Abs("foo"))
	})

	t.Run("rollback failure joined", func(t *testing.T) {
		tx, p, _ := newTx(t)
		err := func() (err error) {
			defer tx.Settle(&err)
			require.NoError(t, tx.WriteFile("c", "foo", []byte("x")))
			require.NoError(t, tx.WriteFile("c", "bar", []byte("x")))
			require.NoError(t, os.Remove(p.Abs("bar")))
			return failing
		}()
		assert.ErrorIs(t, err, failing)
		assert.ErrorIs(t, err, fs.ErrNotExist)
		assert.NoFileExists(t, p.Abs("foo"))
		assert.False(t, tx.Open())
	})
}

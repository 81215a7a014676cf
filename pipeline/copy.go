package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFiles writes every file under dest at its relative name. Each file is
// written to a temp file in the target directory and renamed into place, so a
// reader never sees a partially written output.
func WriteFiles(dest string, files FileSet) error {
	for _, f := range files {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		dir := filepath.Dir(target)
		if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
			return &IOError{Op: "mkdir", Path: dir, Err: err}
		}

		tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+"-*.tmp")
		if err != nil {
			return &IOError{Op: "create temp", Path: dir, Err: err}
		}
		_, werr := tmp.Write(f.Contents)
		cerr := tmp.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(tmp.Name())
			return &IOError{Op: "write", Path: target, Err: werr}
		}
		if err := os.Chmod(tmp.Name(), 0o644); err != nil {
			os.Remove(tmp.Name())
			return &IOError{Op: "chmod", Path: target, Err: err}
		}
		if err := os.Rename(tmp.Name(), target); err != nil {
			os.Remove(tmp.Name())
			return &IOError{Op: "rename", Path: target, Err: err}
		}
	}
	return nil
}

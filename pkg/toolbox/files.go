package toolbox

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type WriteFileInput struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Overwrite bool   `json:"overwrite,omitempty"`
	Append    bool   `json:"append,omitempty"`
}

// WriteFile creates path, refusing to touch an existing file unless
// overwrite or append is set.
func (t *Toolbox) WriteFile(_ context.Context, in WriteFileInput) (string, error) {
	flags := os.O_WRONLY | os.O_CREATE
	switch {
	case in.Overwrite:
		flags |= os.O_TRUNC
	case in.Append:
		flags |= os.O_APPEND
	default:
		flags |= os.O_EXCL
	}

	f, err := t.workspace.OpenFile(in.Path, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Sprintf("File %s already exists. Use overwrite or append options to modify it.", in.Path), nil
		}
		return "", errors.Wrapf(err, "open %s", in.Path)
	}
	if _, err := f.WriteString(in.Content); err != nil {
		_ = f.Close()
		return "", errors.Wrapf(err, "write %s", in.Path)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", in.Path)
	}
	return fmt.Sprintf("File written to %s", in.Path), nil
}

type PathInput struct {
	Path string `json:"path"`
}

func (t *Toolbox) ReadFile(_ context.Context, in PathInput) (string, error) {
	b, err := afero.ReadFile(t.workspace, in.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("File %s does not exist.", in.Path), nil
		}
		return "", errors.Wrapf(err, "read %s", in.Path)
	}
	return string(b), nil
}

type DirectoryInput struct {
	Directory string `json:"directory"`
}

// ListFiles returns the entry names of a directory, or a message when it
// cannot be listed.
func (t *Toolbox) ListFiles(_ context.Context, in DirectoryInput) (interface{}, error) {
	dir := in.Directory
	if dir == "" {
		dir = "."
	}
	fi, err := t.workspace.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Directory %s does not exist.", in.Directory), nil
		}
		return nil, errors.Wrapf(err, "stat %s", dir)
	}
	if !fi.IsDir() {
		return fmt.Sprintf("%s is not a directory.", in.Directory), nil
	}

	entries, err := afero.ReadDir(t.workspace, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (t *Toolbox) DeleteFile(_ context.Context, in PathInput) (string, error) {
	if _, err := t.workspace.Stat(in.Path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("File %s does not exist.", in.Path), nil
		}
		return "", errors.Wrapf(err, "stat %s", in.Path)
	}
	if err := t.workspace.Remove(in.Path); err != nil {
		return "", errors.Wrapf(err, "delete %s", in.Path)
	}
	return fmt.Sprintf("File %s has been deleted.", in.Path), nil
}

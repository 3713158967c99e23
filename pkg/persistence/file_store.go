package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const fileExt = ".json"

// FileStore keeps each thread in <dir>/<thread id>.json. Writes replace the
// whole file.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)
var _ Lister = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "file store")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("file store: %s is not a directory", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(threadID string) string {
	return filepath.Join(s.dir, threadID+fileExt)
}

func (s *FileStore) Load(ctx context.Context, threadID string) ([]conversation.Envelope, error) {
	if err := validateID(threadID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(s.path(threadID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "thread %s", threadID)
		}
		return nil, errors.Wrapf(err, "read thread %s", threadID)
	}

	var envs []conversation.Envelope
	if err := json.Unmarshal(b, &envs); err != nil {
		return nil, errors.Wrapf(err, "decode thread %s", threadID)
	}
	return envs, nil
}

func (s *FileStore) Save(ctx context.Context, threadID string, envs []conversation.Envelope) error {
	if err := validateID(threadID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if envs == nil {
		envs = []conversation.Envelope{}
	}

	b, err := json.Marshal(envs)
	if err != nil {
		return errors.Wrapf(err, "encode thread %s", threadID)
	}

	// write to a sibling temp file and rename so a crash never leaves a
	// truncated thread behind
	tmp, err := os.CreateTemp(s.dir, "."+threadID+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "write thread %s", threadID)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "write thread %s", threadID)
	}
	if err := os.Rename(tmpName, s.path(threadID)); err != nil {
		return errors.Wrapf(err, "replace thread %s", threadID)
	}

	log.Debug().Str("thread_id", threadID).Int("messages", len(envs)).Str("path", s.path(threadID)).Msg("saved thread file")
	return nil
}

func (s *FileStore) Delete(ctx context.Context, threadID string) error {
	if err := validateID(threadID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(threadID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "delete thread %s", threadID)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list threads")
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error {
	return nil
}

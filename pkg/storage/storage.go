package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"pocket-shutter/pkg/types"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrUnknownKind = errors.New("unknown media kind")
)

// Storage lays media out as <root>/photos and <root>/videos.
type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage path can not be empty")
	}
	s := &Storage{root: root}
	if err := mkdirAll(s.dir(KindPhoto), s.dir(KindVideo)); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Root() string {
	return s.root
}

// PhotoPath returns an unused photo_<unixMillis>.jpg path for t.
func (s *Storage) PhotoPath(t time.Time) string {
	return s.unique(KindPhoto, PhotoPrefix, t, DefaultImageExt)
}

// VideoPath returns an unused video_<unixMillis><ext> path for t.
func (s *Storage) VideoPath(t time.Time, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return s.unique(KindVideo, VideoPrefix, t, ext)
}

func (s *Storage) unique(kind Kind, prefix string, t time.Time, ext string) string {
	stem := fmt.Sprintf("%s%d", prefix, t.UnixMilli())
	p := filepath.Join(s.dir(kind), stem+ext)
	for i := 1; exists(p); i++ {
		p = filepath.Join(s.dir(kind), fmt.Sprintf("%s_%d%s", stem, i, ext))
	}

	return p
}

// WriteAll writes data to a new file at path. An existing file is never
// overwritten, and a partially written file is removed.
func (s *Storage) WriteAll(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, DefaultFilePerm)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	return nil
}

// Remove deletes path; a missing file is not an error.
func (s *Storage) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the media files of kind, newest first.
func (s *Storage) List(kind Kind) ([]types.File, error) {
	if kind != KindPhoto && kind != KindVideo {
		return nil, ErrUnknownKind
	}
	entries, err := os.ReadDir(s.dir(kind))
	if err != nil {
		return nil, err
	}
	prefix := PhotoPrefix
	if kind == KindVideo {
		prefix = VideoPrefix
	}

	res := make([]types.File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		res = append(res, types.File{
			Name:    entry.Name(),
			Size:    humanize.Bytes(uint64(info.Size())),
			Bytes:   info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name > res[j].Name
	})

	return res, nil
}

// Path resolves a media file name of kind, rejecting anything that would
// leave the kind's directory.
func (s *Storage) Path(kind Kind, name string) (string, error) {
	if kind != KindPhoto && kind != KindVideo {
		return "", ErrUnknownKind
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}

	return filepath.Join(s.dir(kind), name), nil
}

func (s *Storage) dir(kind Kind) string {
	return filepath.Join(s.root, string(kind))
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

func mkdirAll(dirs ...string) error {
	for _, d := range dirs {
		err := os.MkdirAll(d, DefaultDirPerm)
		if err != nil {
			return err
		}
	}
	return nil
}

package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hlsflow/internal/playlist"
	"hlsflow/internal/repository/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/shirou/gopsutil/v3/disk"
)

var ErrInsufficientDisk = errors.New("insufficient disk space")

// FreeSpaceFunc reports the free bytes of the filesystem holding path.
type FreeSpaceFunc func(path string) (uint64, error)

func diskFree(path string) (uint64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

func checkFreeSpace(free FreeSpaceFunc, dir string, min int64) error {
	if min <= 0 {
		return nil
	}
	avail, err := free(dir)
	if err != nil {
		return fmt.Errorf("disk usage of %s: %w", dir, err)
	}
	if avail < uint64(min) {
		return fmt.Errorf("%w: %d bytes free in %s, need %d", ErrInsufficientDisk, avail, dir, min)
	}
	return nil
}

func contentTypeOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8":
		return playlist.ContentType, nil
	case ".ts":
		return "video/mp2t", nil
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

// uploadDir uploads every regular file in dir under prefix and returns the
// number of media segments among them.
func uploadDir(ctx context.Context, store storage.ObjectStore, dir, prefix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read output dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	// segments first so the variant playlist never points at missing objects
	sort.Slice(names, func(i, j int) bool {
		pi, pj := isPlaylist(names[i]), isPlaylist(names[j])
		if pi != pj {
			return pj
		}
		return names[i] < names[j]
	})

	segments := 0
	for _, name := range names {
		src := filepath.Join(dir, name)
		ct, err := contentTypeOf(src)
		if err != nil {
			return 0, fmt.Errorf("detect content type of %s: %w", name, err)
		}
		if err := store.Upload(ctx, prefix+name, src, ct); err != nil {
			return 0, fmt.Errorf("upload %s: %w", prefix+name, err)
		}
		if strings.EqualFold(filepath.Ext(name), ".ts") {
			segments++
		}
	}
	return segments, nil
}

func isPlaylist(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".m3u8")
}

package imagehost

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Faultbox/texlink/internal/host"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
	".tga":  true,
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var img image.Image
	if strings.EqualFold(filepath.Ext(path), ".tga") {
		img, err = decodeTGA(f)
	} else {
		img, _, err = image.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// LoadFile opens an image file as a document.
func (h *Host) LoadFile(path string) (int, error) {
	img, err := decodeFile(path)
	if err != nil {
		return 0, err
	}
	return h.open(filepath.Base(path), filepath.Clean(path), img, modeOf(img)), nil
}

// LoadDir opens every image in dir, in name order. Files that fail to decode
// are logged and skipped.
func (h *Host) LoadDir(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var ids []int
	for _, name := range names {
		id, err := h.LoadFile(filepath.Join(dir, name))
		if err != nil {
			h.log.Warn("skipping image", zap.String("path", name), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// documentAt returns the id of the document loaded from path.
func (h *Host) documentAt(path string) (int, bool) {
	path = filepath.Clean(path)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, doc := range h.docs {
		if doc.path == path {
			return id, true
		}
	}
	return 0, false
}

// WatchDir keeps the documents loaded from dir in sync with the files: new
// files are opened, rewritten files update their document and removed files
// close it. It blocks until ctx is done.
func (h *Host) WatchDir(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating directory watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	h.log.Info("watching documents", zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if IsImage(event.Name) {
				h.handleFileEvent(event)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.log.Warn("directory watcher error", zap.Error(err))
		}
	}
}

func (h *Host) handleFileEvent(event fsnotify.Event) {
	id, known := h.documentAt(event.Name)
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if known {
			_ = h.Close(id)
		}
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		img, err := decodeFile(event.Name)
		if err != nil {
			// Partially written files fail to decode until the final write.
			h.log.Debug("image not readable yet", zap.String("path", event.Name), zap.Error(err))
			return
		}
		if known {
			_ = h.Update(id, img)
			return
		}
		h.open(filepath.Base(event.Name), filepath.Clean(event.Name), img, modeOf(img))
	}
}

var _ host.Host = (*Host)(nil)

package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// imageSource yields a document's current texture.
type imageSource interface {
	Image(documentID int) (*image.NRGBA, bool)
}

// snapshotter writes one PNG per document, at most once per interval no
// matter how many batches arrived in between.
type snapshotter struct {
	dir string
	log *zap.Logger

	mu      sync.Mutex
	pending map[int]bool
}

func newSnapshotter(dir string, log *zap.Logger) (*snapshotter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	return &snapshotter{dir: dir, log: log, pending: make(map[int]bool)}, nil
}

func (s *snapshotter) mark(documentID int) {
	s.mu.Lock()
	s.pending[documentID] = true
	s.mu.Unlock()
}

func (s *snapshotter) path(documentID int) string {
	return filepath.Join(s.dir, fmt.Sprintf("document-%d.png", documentID))
}

// remove drops a closed document's snapshot.
func (s *snapshotter) remove(documentID int) {
	s.mu.Lock()
	delete(s.pending, documentID)
	s.mu.Unlock()
	if err := os.Remove(s.path(documentID)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("removing snapshot", zap.Int("documentID", documentID), zap.Error(err))
	}
}

func (s *snapshotter) take() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	clear(s.pending)
	sort.Ints(ids)
	return ids
}

// flush writes every document marked since the last flush.
func (s *snapshotter) flush(src imageSource) {
	for _, id := range s.take() {
		img, ok := src.Image(id)
		if !ok {
			continue
		}
		if err := writePNG(s.path(id), img); err != nil {
			s.log.Warn("writing snapshot", zap.Int("documentID", id), zap.Error(err))
			continue
		}
		s.log.Debug("snapshot written", zap.Int("documentID", id), zap.String("path", s.path(id)))
	}
}

func (s *snapshotter) run(ctx context.Context, src imageSource, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flush(src)
			return nil
		case <-ticker.C:
			s.flush(src)
		}
	}
}

// writePNG replaces path atomically so readers never see a partial file.
func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

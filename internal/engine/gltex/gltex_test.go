package gltex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/Faultbox/texlink/internal/engine/scene"
)

func TestDirtyRows(t *testing.T) {
	// 10 pixels wide, 40 bytes per row, 5 rows.
	tests := []struct {
		name   string
		lo, hi int
		want   region
		ok     bool
	}{
		{"whole image", 0, 200, region{0, 5}, true},
		{"single row", 40, 80, region{1, 1}, true},
		{"mid row start", 44, 80, region{1, 1}, true},
		{"spans rows", 76, 84, region{1, 2}, true},
		{"one pixel", 196, 200, region{4, 1}, true},
		{"clamped", -8, 1000, region{0, 5}, true},
		{"empty", 40, 40, region{}, false},
		{"past end", 200, 240, region{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := dirtyRows(tt.lo, tt.hi, 10, 5)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := dirtyRows(0, 10, 0, 5)
	assert.False(t, ok)
}

func TestPlanUpload(t *testing.T) {
	tex := scene.NewDataTexture(make([]byte, 8*8*4), 8, 8)

	p, ok := planUpload(tex, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, plan{allocate: true, full: true}, p)

	_, ok = planUpload(tex, 8, 8)
	assert.False(t, ok, "nothing changed since the allocation")

	tex.MarkDirty(8*4*2+4, 8*4*3)
	tex.MarkDirty(8*4*5, 8*4*5+4)
	p, ok = planUpload(tex, 8, 8)
	assert.True(t, ok)
	assert.Equal(t, plan{rows: region{Y: 2, Rows: 4}}, p)

	tex.MarkAllDirty()
	p, ok = planUpload(tex, 8, 8)
	assert.True(t, ok)
	assert.Equal(t, plan{full: true}, p)

	p, ok = planUpload(tex, 4, 4)
	assert.True(t, ok)
	assert.Equal(t, plan{allocate: true, full: true}, p, "size change respecifies")
}

func TestDisposeQueuesNameForGLThread(t *testing.T) {
	u := NewUploader(zaptest.NewLogger(t))
	tex := scene.NewDataTexture(make([]byte, 4*4*4), 4, 4)
	// Stands in for a Sync that already allocated name 7.
	u.textures[tex.UUID()] = &entry{name: 7, width: 4, height: 4}
	tex.OnDispose(u.release)

	done := make(chan struct{})
	go func() {
		tex.Dispose()
		close(done)
	}()
	<-done

	assert.Zero(t, u.Len())
	_, ok := u.Name(tex)
	assert.False(t, ok)
	assert.Equal(t, []uint32{7}, u.dead)

	_, err := u.Sync(tex)
	assert.ErrorIs(t, err, ErrDisposed)
}

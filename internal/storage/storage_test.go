package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"framevault/internal/artifact"
)

func testArtifact(t *testing.T, itemID, mutations int64) *artifact.Artifact {
	t.Helper()
	w, h := 2, 2
	frames := make([][]byte, mutations+1)
	for i := range frames {
		f := make([]byte, w*h*artifact.BytesPerPixel)
		for j := range f {
			f[j] = byte(int64(i) + itemID + int64(j))
		}
		frames[i] = f
	}
	return &artifact.Artifact{
		ItemID:        itemID,
		Width:         w,
		Height:        h,
		Frames:        frames,
		MutationCount: mutations,
		RenderedAt:    time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC),
	}
}

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:): %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	fsStore, err := OpenFS(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFS: %v", err)
	}

	return map[string]Store{
		"sqlite": sqlite,
		"fs":     fsStore,
		"memory": NewMemory(),
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			want := testArtifact(t, 3, 2)
			if err := store.Upload(ctx, want); err != nil {
				t.Fatalf("Upload: %v", err)
			}

			got, err := store.Download(ctx, 3)
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			if got.Width != want.Width || got.Height != want.Height {
				t.Errorf("dimensions = %dx%d, want %dx%d", got.Width, got.Height, want.Width, want.Height)
			}
			if got.MutationCount != want.MutationCount {
				t.Errorf("MutationCount = %d, want %d", got.MutationCount, want.MutationCount)
			}
			if len(got.Frames) != len(want.Frames) {
				t.Fatalf("frame count = %d, want %d", len(got.Frames), len(want.Frames))
			}
			for i := range want.Frames {
				if !bytes.Equal(got.Frames[i], want.Frames[i]) {
					t.Errorf("frame %d differs", i)
				}
			}
		})
	}
}

func TestDownloadMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Download(ctx, 99); !errors.Is(err, ErrNotFound) {
				t.Errorf("Download(99) err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestUploadOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Upload(ctx, testArtifact(t, 5, 1)); err != nil {
				t.Fatalf("first Upload: %v", err)
			}
			if err := store.Upload(ctx, testArtifact(t, 5, 4)); err != nil {
				t.Fatalf("second Upload: %v", err)
			}

			got, err := store.Download(ctx, 5)
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			if got.MutationCount != 4 {
				t.Errorf("MutationCount = %d, want 4", got.MutationCount)
			}

			descs, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(descs) != 1 {
				t.Errorf("List returned %d descriptors, want 1", len(descs))
			}
		})
	}
}

func TestStatReadsMetadataWithoutPayload(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			want := testArtifact(t, 11, 3)
			if err := store.Upload(ctx, want); err != nil {
				t.Fatalf("Upload: %v", err)
			}

			m, err := store.Stat(ctx, 11)
			if err != nil {
				t.Fatalf("Stat: %v", err)
			}
			if m.ItemID != 11 || m.Width != want.Width || m.Height != want.Height {
				t.Errorf("Stat = %+v, want the uploaded geometry", m)
			}
			if m.FrameCount != len(want.Frames) {
				t.Errorf("FrameCount = %d, want %d", m.FrameCount, len(want.Frames))
			}
			if m.MutationCount != want.MutationCount {
				t.Errorf("MutationCount = %d, want %d", m.MutationCount, want.MutationCount)
			}
			if !m.RenderedAt.Equal(want.RenderedAt) {
				t.Errorf("RenderedAt = %v, want %v", m.RenderedAt, want.RenderedAt)
			}

			if _, err := store.Stat(ctx, 999); !errors.Is(err, ErrNotFound) {
				t.Errorf("Stat(missing) err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestFailedUploadKeepsPriorArtifact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := OpenFS(dir)
	if err != nil {
		t.Fatalf("OpenFS: %v", err)
	}

	prior := testArtifact(t, 9, 2)
	if err := store.Upload(ctx, prior); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	// An artifact that fails encoding must not disturb the stored one.
	bad := testArtifact(t, 9, 2)
	bad.Width = 0
	if err := store.Upload(ctx, bad); err == nil {
		t.Fatal("Upload of invalid artifact succeeded")
	}

	if os.Geteuid() != 0 {
		// Make the temp-file write fail mid-upload as well. Root ignores
		// directory permissions, so this half only runs unprivileged.
		if err := os.Chmod(dir, 0o500); err != nil {
			t.Fatalf("Chmod: %v", err)
		}
		t.Cleanup(func() { os.Chmod(dir, 0o755) })
		if err := store.Upload(ctx, testArtifact(t, 9, 6)); err == nil {
			t.Fatal("Upload into read-only directory succeeded")
		}
	}

	got, err := store.Download(ctx, 9)
	if err != nil {
		t.Fatalf("Download after failed uploads: %v", err)
	}
	if got.MutationCount != prior.MutationCount {
		t.Errorf("MutationCount = %d, want %d", got.MutationCount, prior.MutationCount)
	}
	if !bytes.Equal(got.Frames[0], prior.Frames[0]) {
		t.Error("stored frames changed after failed uploads")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Upload(ctx, testArtifact(t, 2, 0)); err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if err := store.Delete(ctx, 2); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.Download(ctx, 2); !errors.Is(err, ErrNotFound) {
				t.Errorf("Download after delete err = %v, want ErrNotFound", err)
			}
			if err := store.Delete(ctx, 2); err != nil {
				t.Errorf("second Delete: %v, want nil", err)
			}
			if err := store.Delete(ctx, 1234); err != nil {
				t.Errorf("Delete of never-stored item: %v, want nil", err)
			}
		})
	}
}

func TestListOrderedByItemID(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []int64{9, 1, 4} {
				if err := store.Upload(ctx, testArtifact(t, id, 0)); err != nil {
					t.Fatalf("Upload(%d): %v", id, err)
				}
			}

			descs, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []int64{1, 4, 9}
			if len(descs) != len(want) {
				t.Fatalf("List returned %d descriptors, want %d", len(descs), len(want))
			}
			for i, d := range descs {
				if d.ItemID != want[i] {
					t.Errorf("descs[%d].ItemID = %d, want %d", i, d.ItemID, want[i])
				}
				if d.LastModified.IsZero() {
					t.Errorf("descs[%d].LastModified is zero", i)
				}
			}
		})
	}
}

func TestLocationIsStable(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if store.Location(7) == "" {
				t.Error("Location(7) is empty")
			}
			if store.Location(7) != store.Location(7) {
				t.Error("Location is not deterministic")
			}
			if store.Location(7) == store.Location(8) {
				t.Error("Location does not distinguish items")
			}
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{"sqlite", "fs", "memory"} {
		store, err := Open(kind, dir)
		if err != nil {
			t.Fatalf("Open(%q): %v", kind, err)
		}
		store.Close()
	}
	if _, err := Open("s3", dir); err == nil {
		t.Error("Open(s3) = nil error, want unknown backend error")
	}
}

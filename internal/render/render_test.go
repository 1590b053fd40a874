package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testFrames(n, w, h int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		f := make([]byte, w*h*bytesPerPixel)
		for j := range f {
			f[j] = byte(i + j)
		}
		frames[i] = f
	}
	return frames
}

func TestWithTimeoutMapsDeadlineToErrTimeout(t *testing.T) {
	slow := RenderFunc(func(ctx context.Context, itemID int64) (*Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &Result{}, nil
		}
	})

	r := WithTimeout(slow, 20*time.Millisecond)
	_, err := r.Render(context.Background(), 1)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestWithTimeoutPassesThroughSuccess(t *testing.T) {
	want := &Result{Frames: testFrames(1, 2, 2), Width: 2, Height: 2, MutationCount: 3}
	fast := RenderFunc(func(ctx context.Context, itemID int64) (*Result, error) {
		return want, nil
	})

	got, err := WithTimeout(fast, time.Second).Render(context.Background(), 1)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != want {
		t.Error("result was not passed through")
	}
}

func TestWithTimeoutPassesThroughFailure(t *testing.T) {
	renderErr := errors.New("canvas script crashed")
	failing := RenderFunc(func(ctx context.Context, itemID int64) (*Result, error) {
		return nil, renderErr
	})

	_, err := WithTimeout(failing, time.Second).Render(context.Background(), 1)
	if !errors.Is(err, renderErr) {
		t.Errorf("err = %v, want %v", err, renderErr)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("non-deadline failure reported as ErrTimeout")
	}
}

func TestHTTPRendererRendersItem(t *testing.T) {
	frames := testFrames(2, 3, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/render/7" {
			http.NotFound(w, r)
			return
		}
		encoded := make([]string, len(frames))
		for i, f := range frames {
			encoded[i] = base64.StdEncoding.EncodeToString(f)
		}
		json.NewEncoder(w).Encode(renderResponse{
			Width:         3,
			Height:        3,
			MutationCount: 1,
			Frames:        encoded,
		})
	}))
	t.Cleanup(srv.Close)

	res, err := NewHTTPRenderer(srv.URL).Render(context.Background(), 7)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.MutationCount != 1 {
		t.Errorf("MutationCount = %d, want 1", res.MutationCount)
	}
	if len(res.Frames) != 2 {
		t.Errorf("frame count = %d, want 2", len(res.Frames))
	}
}

func TestHTTPRendererRejectsBadGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(renderResponse{
			Width:  4,
			Height: 4,
			Frames: []string{base64.StdEncoding.EncodeToString(make([]byte, 7))},
		})
	}))
	t.Cleanup(srv.Close)

	if _, err := NewHTTPRenderer(srv.URL).Render(context.Background(), 1); err == nil {
		t.Error("Render with wrong frame size: err = nil, want error")
	}
}

func TestHTTPRendererServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine crashed", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	if _, err := NewHTTPRenderer(srv.URL).Render(context.Background(), 1); err == nil {
		t.Error("Render against failing service: err = nil, want error")
	}
}

func TestHTTPRendererUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewHTTPRenderer(srv.URL).Render(context.Background(), 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

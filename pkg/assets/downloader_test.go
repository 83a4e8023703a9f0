package assets

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/recruitee-exporter/internal/testutil"
	"github.com/Sternrassler/recruitee-exporter/pkg/client"
	"github.com/Sternrassler/recruitee-exporter/pkg/normalize"
	"github.com/Sternrassler/recruitee-exporter/pkg/storage"
)

func newTestDownloader(t *testing.T, mock *testutil.MockRecruitee) (*Downloader, *storage.Local) {
	t.Helper()

	cfg := client.DefaultConfig("c1")
	cfg.BaseURL = mock.URL()
	api, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() failed: %v", err)
	}
	t.Cleanup(func() { api.Close() })

	sink, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("storage.NewLocal() failed: %v", err)
	}

	return New(api, sink, DefaultConfig()), sink
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestDownload_PDFWritten(t *testing.T) {
	mock := testutil.NewMockRecruitee()
	defer mock.Close()
	mock.SetResponse("/files/ada.pdf", testutil.NewFileResponse("application/pdf", "%PDF-1.7 ada"))

	d, sink := newTestDownloader(t, mock)

	outcomes := d.Download(context.Background(), normalize.Record{
		"name":   "Ada Lovelace",
		"cv_url": mock.URL() + "/files/ada.pdf",
	})

	if outcomes[0].Status != StatusDownloaded {
		t.Fatalf("document status = %q, err = %v", outcomes[0].Status, outcomes[0].Err)
	}
	if outcomes[0].Bytes != int64(len("%PDF-1.7 ada")) {
		t.Errorf("bytes = %d", outcomes[0].Bytes)
	}
	if outcomes[1].Status != StatusSkipped || outcomes[1].Err != nil {
		t.Errorf("image outcome = %+v, want skipped without error", outcomes[1])
	}

	data, err := os.ReadFile(filepath.Join(sink.Dir(), "Ada Lovelace_resume.pdf"))
	if err != nil {
		t.Fatalf("read resume: %v", err)
	}
	if string(data) != "%PDF-1.7 ada" {
		t.Errorf("resume content = %q", data)
	}

	if got := listDir(t, sink.Dir()); len(got) != 1 {
		t.Errorf("files = %v, want only the resume", got)
	}
}

func TestDownload_ContentTypeWithParameters(t *testing.T) {
	mock := testutil.NewMockRecruitee()
	defer mock.Close()
	mock.SetResponse("/cv", testutil.NewFileResponse("Application/PDF; name=cv.pdf", "%PDF"))

	d, _ := newTestDownloader(t, mock)

	outcomes := d.Download(context.Background(), normalize.Record{
		"name":   "Ada",
		"cv_url": mock.URL() + "/cv",
	})
	if outcomes[0].Status != StatusDownloaded {
		t.Errorf("status = %q, err = %v", outcomes[0].Status, outcomes[0].Err)
	}
}

func TestDownload_WrongContentTypeWritesNothing(t *testing.T) {
	mock := testutil.NewMockRecruitee()
	defer mock.Close()
	mock.SetResponse("/cv", testutil.NewFileResponse("text/html", "<html>login</html>"))

	d, sink := newTestDownloader(t, mock)

	outcomes := d.Download(context.Background(), normalize.Record{
		"name":   "Ada",
		"cv_url": mock.URL() + "/cv",
	})

	doc := outcomes[0]
	if doc.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", doc.Status)
	}
	if !errors.Is(doc.Err, ErrContentType) {
		t.Errorf("error = %v, want ErrContentType", doc.Err)
	}

	var dlErr *AssetDownloadError
	if !errors.As(doc.Err, &dlErr) || dlErr.Kind != KindDocument || dlErr.Name != "Ada" {
		t.Errorf("error = %#v, want *AssetDownloadError for Ada's document", doc.Err)
	}

	if got := listDir(t, sink.Dir()); len(got) != 0 {
		t.Errorf("files = %v, want none", got)
	}
}

func TestDownload_ImageAcceptsAnyContentType(t *testing.T) {
	mock := testutil.NewMockRecruitee()
	defer mock.Close()
	mock.SetResponse("/photo", testutil.NewFileResponse("text/plain", "not really a jpeg"))

	d, sink := newTestDownloader(t, mock)

	outcomes := d.Download(context.Background(), normalize.Record{
		"name":             "Ada",
		"photo_normal_url": mock.URL() + "/photo",
	})

	if outcomes[1].Status != StatusDownloaded {
		t.Fatalf("image status = %q, err = %v", outcomes[1].Status, outcomes[1].Err)
	}
	if outcomes[0].Status != StatusSkipped {
		t.Errorf("document status = %q, want skipped", outcomes[0].Status)
	}

	got := listDir(t, sink.Dir())
	if len(got) != 1 || got[0] != "Ada_photo.jpg" {
		t.Errorf("files = %v, want [Ada_photo.jpg]", got)
	}
}

func TestDownload_NonOKStatus(t *testing.T) {
	tests := []struct {
		name string
		resp testutil.MockResponse
	}{
		{"not found", testutil.NewNotFoundResponse()},
		{"server error", testutil.NewServerErrorResponse()},
		{"no content", testutil.MockResponse{StatusCode: http.StatusNoContent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockRecruitee()
			defer mock.Close()
			mock.SetResponse("/photo", tt.resp)

			d, sink := newTestDownloader(t, mock)

			outcomes := d.Download(context.Background(), normalize.Record{
				"name":      "Ada",
				"photo_url": mock.URL() + "/photo",
			})

			if outcomes[1].Status != StatusFailed {
				t.Errorf("status = %q, want failed", outcomes[1].Status)
			}
			if !errors.Is(outcomes[1].Err, ErrUnexpectedStatus) {
				t.Errorf("error = %v, want ErrUnexpectedStatus", outcomes[1].Err)
			}
			if got := listDir(t, sink.Dir()); len(got) != 0 {
				t.Errorf("files = %v, want none", got)
			}
		})
	}
}

func TestDownload_NetworkError(t *testing.T) {
	mock := testutil.NewMockRecruitee()
	d, _ := newTestDownloader(t, mock)
	target := mock.URL() + "/cv"
	mock.Close()

	outcomes := d.Download(context.Background(), normalize.Record{"name": "Ada", "cv_url": target})

	if outcomes[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", outcomes[0].Status)
	}
	if client.ClassOf(outcomes[0].Err) != client.ErrorClassNetwork {
		t.Errorf("class = %q, want network", client.ClassOf(outcomes[0].Err))
	}
}

// truncatingGetter returns a body that fails partway through.
type truncatingGetter struct{}

func (truncatingGetter) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	body := io.MultiReader(strings.NewReader("%PDF partial"), errReader{})
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"application/pdf"}},
		Body:       io.NopCloser(body),
	}, nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestDownload_InterruptedBodyRemovesPartialFile(t *testing.T) {
	sink, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d := New(truncatingGetter{}, sink, DefaultConfig())

	outcomes := d.Download(context.Background(), normalize.Record{"name": "Ada", "cv_url": "https://x/cv"})

	if outcomes[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", outcomes[0].Status)
	}
	if !errors.Is(outcomes[0].Err, io.ErrUnexpectedEOF) {
		t.Errorf("error = %v, want io.ErrUnexpectedEOF", outcomes[0].Err)
	}
	if got := listDir(t, sink.Dir()); len(got) != 0 {
		t.Errorf("files = %v, want partial file removed", got)
	}
}

func TestDownload_CollidingNamesLastWriteWins(t *testing.T) {
	mock := testutil.NewMockRecruitee()
	defer mock.Close()
	mock.SetResponse("/first", testutil.NewFileResponse("application/pdf", "first"))
	mock.SetResponse("/second", testutil.NewFileResponse("application/pdf", "second"))

	d, sink := newTestDownloader(t, mock)
	ctx := context.Background()

	d.Download(ctx, normalize.Record{"name": "Ada!", "cv_url": mock.URL() + "/first"})
	d.Download(ctx, normalize.Record{"name": "Ada?", "cv_url": mock.URL() + "/second"})

	data, err := os.ReadFile(filepath.Join(sink.Dir(), "Ada_resume.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want the later download", data)
	}
}

// scriptedGetter serves a fresh PDF body per URL.
type scriptedGetter map[string]func() io.Reader

func (g scriptedGetter) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"application/pdf"}},
		Body:       io.NopCloser(g[rawURL]()),
	}, nil
}

// pause stalls once, then ends its part of a body with err.
type pause struct {
	d   time.Duration
	err error
}

func (p pause) Read([]byte) (int, error) {
	time.Sleep(p.d)
	return 0, p.err
}

func TestDownloadAll_ConcurrentCollisions(t *testing.T) {
	long := strings.Repeat("a", 12192)
	short := "bbbbb"

	tests := []struct {
		name       string
		slowErr    error
		want       string
		downloaded int
		failed     int
	}{
		{
			name:       "slow writer finishes last and wins",
			slowErr:    io.EOF,
			want:       long,
			downloaded: 2,
		},
		{
			name:       "slow writer fails and keeps sibling file",
			slowErr:    io.ErrUnexpectedEOF,
			want:       short,
			downloaded: 1,
			failed:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := scriptedGetter{
				"https://x/slow": func() io.Reader {
					rest := io.Reader(strings.NewReader(long[4096:]))
					if tt.slowErr != io.EOF {
						rest = pause{err: tt.slowErr}
					}
					return io.MultiReader(strings.NewReader(long[:4096]), pause{d: 100 * time.Millisecond, err: io.EOF}, rest)
				},
				"https://x/fast": func() io.Reader { return strings.NewReader(short) },
			}

			sink, err := storage.NewLocal(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}

			summary := New(getter, sink, DefaultConfig()).DownloadAll(context.Background(), []normalize.Record{
				{"name": "Ada!", "cv_url": "https://x/slow"},
				{"name": "Ada?", "cv_url": "https://x/fast"},
			})

			if summary.Downloaded != tt.downloaded || summary.Failed != tt.failed {
				t.Errorf("summary = %d downloaded, %d failed; want %d, %d",
					summary.Downloaded, summary.Failed, tt.downloaded, tt.failed)
			}

			data, err := os.ReadFile(filepath.Join(sink.Dir(), "Ada_resume.pdf"))
			if err != nil {
				t.Fatalf("read resume: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("content has %d bytes (prefix %q), want %d bytes", len(data), data[:min(len(data), 8)], len(tt.want))
			}
			if got := listDir(t, sink.Dir()); len(got) != 1 {
				t.Errorf("files = %v, want only Ada_resume.pdf", got)
			}
		})
	}
}

func TestDownloadAll_IsolatesFailures(t *testing.T) {
	mock := testutil.NewMockRecruitee()
	defer mock.Close()
	mock.SetResponse("/ada.pdf", testutil.NewFileResponse("application/pdf", "ada"))
	mock.SetResponse("/ada.jpg", testutil.NewFileResponse("image/jpeg", "ada-photo"))
	mock.SetResponse("/alan.pdf", testutil.NewServerErrorResponse())
	mock.SetResponse("/grace.pdf", testutil.NewFileResponse("application/pdf", "grace"))

	d, sink := newTestDownloader(t, mock)

	summary := d.DownloadAll(context.Background(), []normalize.Record{
		{"name": "Ada", "cv_url": mock.URL() + "/ada.pdf", "photo_url": mock.URL() + "/ada.jpg"},
		{"name": "Alan", "cv_url": mock.URL() + "/alan.pdf"},
		{"name": "Grace", "cv_url": mock.URL() + "/grace.pdf"},
	})

	if summary.Downloaded != 3 || summary.Failed != 1 || summary.Skipped != 2 {
		t.Errorf("summary = %d downloaded, %d failed, %d skipped; want 3, 1, 2",
			summary.Downloaded, summary.Failed, summary.Skipped)
	}
	if len(summary.Outcomes) != 6 {
		t.Errorf("len(Outcomes) = %d, want 6", len(summary.Outcomes))
	}
	if summary.Bytes != int64(len("ada")+len("ada-photo")+len("grace")) {
		t.Errorf("bytes = %d", summary.Bytes)
	}

	want := []string{"Ada_photo.jpg", "Ada_resume.pdf", "Grace_resume.pdf"}
	if got := listDir(t, sink.Dir()); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("files = %v, want %v", got, want)
	}
}

func TestDownloadAll_Empty(t *testing.T) {
	sink, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	summary := New(truncatingGetter{}, sink, DefaultConfig()).DownloadAll(context.Background(), nil)
	if summary.Downloaded != 0 || summary.Failed != 0 || len(summary.Outcomes) != 0 {
		t.Errorf("summary = %+v, want zero", summary)
	}
}

// recordingWriter records the size of every Write call.
type recordingWriter struct {
	bytes.Buffer
	sizes []int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.sizes = append(w.sizes, len(p))
	return w.Buffer.Write(p)
}

func TestCopyChunks(t *testing.T) {
	src := strings.Repeat("x", 25)
	var dst recordingWriter

	n, err := copyChunks(&dst, strings.NewReader(src), 10)
	if err != nil {
		t.Fatalf("copyChunks() failed: %v", err)
	}
	if n != 25 || dst.String() != src {
		t.Errorf("copied %d bytes %q", n, dst.String())
	}
	for _, size := range dst.sizes {
		if size > 10 {
			t.Errorf("write of %d bytes exceeds chunk size", size)
		}
	}
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestCopyChunks_ShortWrite(t *testing.T) {
	_, err := copyChunks(shortWriter{}, strings.NewReader("abcdef"), 4)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("error = %v, want io.ErrShortWrite", err)
	}
}

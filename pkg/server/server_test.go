package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/pointrect/pkg/detection"
	"github.com/menta2k/pointrect/pkg/predict"
	"github.com/menta2k/pointrect/pkg/remote"
	"github.com/menta2k/pointrect/pkg/types"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithBackendName("template"), WithImageLoading(false)}, opts...)
	s := New(detection.NewDetector(nil), opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+remote.ProcessPath, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != (statusResponse{Status: "ok", Backend: "template"}) {
		t.Errorf("unexpected status %+v", got)
	}
}

func TestProcess(t *testing.T) {
	srv := newTestServer(t)
	body := `{"asset":{"id":"a","size":{"width":100,"height":100}},"regions":[
		{"id":"p","type":"POINT","tags":["car"],"points":[{"x":50,"y":50}]},
		{"id":"r","type":"RECTANGLE","tags":[],"boundingBox":{"left":0,"top":0,"width":5,"height":5}}]}`

	resp := postJSON(t, srv.URL, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var md types.AssetMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		t.Fatal(err)
	}
	if len(md.Regions) != 1 {
		t.Fatalf("expected only the point to be converted, got %d regions", len(md.Regions))
	}
	r := md.Regions[0]
	want := types.BoundingBox{Left: 40, Top: 40, Width: 20, Height: 20}
	if diff := cmp.Diff(want, *r.BoundingBox); diff != "" {
		t.Errorf("box (-want +got):\n%s", diff)
	}
	if r.Type != types.RegionRectangle || r.ID == "p" || r.Tags[0] != "car" {
		t.Errorf("unexpected region %+v", r)
	}
}

func TestProcessBadRequests(t *testing.T) {
	srv := newTestServer(t, WithMaxBodyBytes(256))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"asset":`, http.StatusBadRequest},
		{"no size", `{"asset":{"id":"a"},"regions":[]}`, http.StatusBadRequest},
		{"no asset", `{"regions":[]}`, http.StatusBadRequest},
		{"zero width", `{"asset":{"id":"a","size":{"width":0,"height":10}},"regions":[]}`, http.StatusBadRequest},
		{"too large", `{"asset":{"id":"` + strings.Repeat("x", 300) + `"}}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := postJSON(t, srv.URL, tt.body); resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

type failingLocator struct{}

func (failingLocator) Locate(context.Context, image.Image, []types.Point) ([]types.Box, error) {
	return nil, errors.New("backend down")
}

func TestProcessLocatorFailureFallsBack(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "a.png")
	f, err := os.Create(imgPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 100, 100))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s := New(detection.NewDetector(failingLocator{}), WithImageLoading(true))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"asset":{"id":"a","path":"` + imgPath + `","size":{"width":100,"height":100}},
		"regions":[{"id":"p","type":"POINT","tags":[],"points":[{"x":50,"y":50}]}]}`
	resp := postJSON(t, srv.URL, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var md types.AssetMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		t.Fatal(err)
	}
	if len(md.Regions) != 1 {
		t.Fatalf("expected one template region, got %d", len(md.Regions))
	}
	want := types.BoundingBox{Left: 40, Top: 40, Width: 20, Height: 20}
	if diff := cmp.Diff(want, *md.Regions[0].BoundingBox); diff != "" {
		t.Errorf("box (-want +got):\n%s", diff)
	}
}

func TestMethodNotRouted(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + remote.ProcessPath)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for GET %s, got %d", remote.ProcessPath, resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+remote.ProcessPath, nil)
	req.Header.Set("Origin", "app://renderer")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected allow-all origin, got %q", got)
	}
}

func TestServiceAgainstServer(t *testing.T) {
	s := New(detection.NewDetector(nil), WithListenAddress("127.0.0.1:0"), WithImageLoading(false))
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	c, err := remote.NewClient(s.BaseURL())
	if err != nil {
		t.Fatal(err)
	}
	svc := predict.New(c)
	svc.EnsureConnected(ctx)
	if !svc.IsConnected() {
		t.Fatal("expected service to connect")
	}

	md := &types.AssetMetadata{
		Asset: &types.Asset{ID: "a", Size: &types.Size{Width: 200, Height: 100}},
		Regions: []types.Region{
			{ID: "p", Type: types.RegionPoint, Tags: []string{"dog"}, Points: []types.Point{{X: 100, Y: 50}}},
		},
	}
	res := svc.ProcessResult(ctx, md)
	if res.Outcome != predict.Success {
		t.Fatalf("expected success, got %v (%v)", res.Outcome, res.Err)
	}
	if len(res.Metadata.Regions) != 2 || res.Metadata.Asset.State != types.Tagged || !res.Metadata.Asset.Predicted {
		t.Errorf("unexpected merge result %+v", res.Metadata)
	}

	// the re-sent point predicts the rectangle already present
	again := svc.Process(ctx, res.Metadata)
	if len(again.Regions) != 2 {
		t.Errorf("expected no duplicate rectangle, got %d regions", len(again.Regions))
	}
}

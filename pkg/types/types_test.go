package types

import (
	"encoding/json"
	"testing"
)

func TestBoxConversions(t *testing.T) {
	size := Size{Width: 200, Height: 100}
	bb := Box{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}.ToBoundingBox(size)
	want := BoundingBox{Left: 50, Top: 50, Width: 100, Height: 25}
	if bb != want {
		t.Errorf("ToBoundingBox = %+v, want %+v", bb, want)
	}
	if back := bb.Normalize(size); back != (Box{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}) {
		t.Errorf("Normalize = %+v", back)
	}
	if got := bb.Normalize(Size{}); got != (Box{}) {
		t.Errorf("expected zero box for zero size, got %+v", got)
	}
}

func TestBoundingBoxContains(t *testing.T) {
	bb := BoundingBox{Left: 10, Top: 10, Width: 10, Height: 10}
	tests := []struct {
		p    Point
		want bool
	}{
		{Point{15, 15}, true},
		{Point{10, 20}, true},
		{Point{9.9, 15}, false},
		{Point{15, 21}, false},
	}
	for _, tt := range tests {
		if got := bb.Contains(tt.p); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if len(bb.Corners()) != 4 || bb.Corners()[2] != (Point{20, 20}) {
		t.Errorf("unexpected corners %v", bb.Corners())
	}
}

func TestMetadataClone(t *testing.T) {
	md := &AssetMetadata{
		Asset: &Asset{ID: "a", Size: &Size{Width: 1, Height: 1}},
		Regions: []Region{{
			ID:          "r",
			Tags:        []string{"x"},
			Attributes:  map[string]string{"k": "v"},
			Points:      []Point{{1, 2}},
			BoundingBox: &BoundingBox{Width: 3},
		}},
	}
	c := md.Clone()
	c.Asset.Size.Width = 9
	c.Regions[0].Tags[0] = "y"
	c.Regions[0].Attributes["k"] = "w"
	c.Regions[0].Points[0].X = 7
	c.Regions[0].BoundingBox.Width = 8

	r := md.Regions[0]
	if md.Asset.Size.Width != 1 || r.Tags[0] != "x" || r.Attributes["k"] != "v" || r.Points[0].X != 1 || r.BoundingBox.Width != 3 {
		t.Errorf("clone shares state with original: %+v", md)
	}
	if (*AssetMetadata)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestMetadataWireFormat(t *testing.T) {
	raw := `{"asset":{"id":"a","type":1,"state":2,"name":"n.jpg","path":"file:n.jpg",
		"size":{"width":640,"height":480},"predicted":true},
		"regions":[{"id":"r","type":"RECTANGLE","tags":["car"],
		"boundingBox":{"left":1,"top":2,"width":3,"height":4},"points":[{"x":1,"y":2}]}],
		"version":"2.2.0"}`
	var md AssetMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if md.Asset.State != Tagged || md.Asset.Type != AssetImage || !md.Asset.Predicted {
		t.Errorf("asset fields not decoded: %+v", md.Asset)
	}
	if md.Regions[0].Type != RegionRectangle || md.Regions[0].BoundingBox.Height != 4 {
		t.Errorf("region fields not decoded: %+v", md.Regions[0])
	}
}

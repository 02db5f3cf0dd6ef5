package types

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Empty reports whether the box has no area
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// ToBoundingBox converts a normalized box to pixel coordinates of an asset of the given size
func (b Box) ToBoundingBox(size Size) BoundingBox {
	return BoundingBox{
		Left:   b.X * size.Width,
		Top:    b.Y * size.Height,
		Width:  b.W * size.Width,
		Height: b.H * size.Height,
	}
}

// BoundingBox is the pixel extent of a region on its asset
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge
func (b BoundingBox) Right() float64 {
	return b.Left + b.Width
}

// Bottom returns the y coordinate of the bottom edge
func (b BoundingBox) Bottom() float64 {
	return b.Top + b.Height
}

// Area returns the box area, zero for degenerate boxes
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Contains reports whether p lies inside the box, edges included
func (b BoundingBox) Contains(p Point) bool {
	return p.X >= b.Left && p.X <= b.Right() && p.Y >= b.Top && p.Y <= b.Bottom()
}

// Normalize converts the box to [0,1] coordinates relative to size
func (b BoundingBox) Normalize(size Size) Box {
	if size.Width <= 0 || size.Height <= 0 {
		return Box{}
	}
	return Box{
		X: b.Left / size.Width,
		Y: b.Top / size.Height,
		W: b.Width / size.Width,
		H: b.Height / size.Height,
	}
}

// Corners returns the four corners clockwise from top-left
func (b BoundingBox) Corners() []Point {
	return []Point{
		{X: b.Left, Y: b.Top},
		{X: b.Right(), Y: b.Top},
		{X: b.Right(), Y: b.Bottom()},
		{X: b.Left, Y: b.Bottom()},
	}
}

// Point is a pixel coordinate on an asset
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the pixel geometry of an asset
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RegionType is the geometric kind of a region
type RegionType string

const (
	RegionPoint     RegionType = "POINT"
	RegionRectangle RegionType = "RECTANGLE"
	RegionPolygon   RegionType = "POLYGON"
	RegionPolyline  RegionType = "POLYLINE"
	RegionSquare    RegionType = "SQUARE"
)

// Region is a tagged geometric annotation on an asset
type Region struct {
	ID          string            `json:"id"`
	Type        RegionType        `json:"type"`
	Tags        []string          `json:"tags"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Points      []Point           `json:"points,omitempty"`
	BoundingBox *BoundingBox      `json:"boundingBox,omitempty"`
}

// Clone returns a deep copy of the region
func (r Region) Clone() Region {
	out := r
	if r.Tags != nil {
		out.Tags = make([]string, len(r.Tags))
		copy(out.Tags, r.Tags)
	}
	if r.Attributes != nil {
		out.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	if r.Points != nil {
		out.Points = make([]Point, len(r.Points))
		copy(out.Points, r.Points)
	}
	if r.BoundingBox != nil {
		bb := *r.BoundingBox
		out.BoundingBox = &bb
	}
	return out
}

// AssetState tracks how far annotation of an asset has progressed
type AssetState int

const (
	NotVisited AssetState = iota
	Visited
	Tagged
)

func (s AssetState) String() string {
	switch s {
	case NotVisited:
		return "NotVisited"
	case Visited:
		return "Visited"
	case Tagged:
		return "Tagged"
	}
	return "Unknown"
}

// AssetType is the media kind of an asset
type AssetType int

const (
	AssetUnknown AssetType = iota
	AssetImage
	AssetVideo
	AssetVideoFrame
	AssetTFRecord
)

// Asset describes one unit of media
type Asset struct {
	ID        string     `json:"id"`
	Type      AssetType  `json:"type"`
	State     AssetState `json:"state"`
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Size      *Size      `json:"size,omitempty"`
	Format    string     `json:"format,omitempty"`
	Predicted bool       `json:"predicted,omitempty"`
	Timestamp float64    `json:"timestamp,omitempty"`
	Parent    *Asset     `json:"parent,omitempty"`
}

// AssetMetadata is an asset together with its regions
type AssetMetadata struct {
	Asset   *Asset   `json:"asset"`
	Regions []Region `json:"regions"`
	Version string   `json:"version,omitempty"`
}

// Clone returns a deep copy of the metadata
func (m *AssetMetadata) Clone() *AssetMetadata {
	if m == nil {
		return nil
	}
	out := &AssetMetadata{Version: m.Version}
	if m.Asset != nil {
		out.Asset = cloneAsset(m.Asset)
	}
	if m.Regions != nil {
		out.Regions = make([]Region, len(m.Regions))
		for i, r := range m.Regions {
			out.Regions[i] = r.Clone()
		}
	}
	return out
}

func cloneAsset(a *Asset) *Asset {
	c := *a
	if a.Size != nil {
		sz := *a.Size
		c.Size = &sz
	}
	if a.Parent != nil {
		c.Parent = cloneAsset(a.Parent)
	}
	return &c
}

// Tag is a project-level label
type Tag struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// AttributeKey is a project-level region attribute name
type AttributeKey struct {
	Name string `json:"name"`
}

// Project holds the parts of a project the region tooling needs
type Project struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	SecurityToken string         `json:"securityToken"`
	Tags          []Tag          `json:"tags"`
	AttributeKeys []AttributeKey `json:"attributeKeys,omitempty"`
}

// LocateResult is what a vision backend returns for a set of query points
type LocateResult struct {
	Boxes       []Box  `json:"boxes"`
	Description string `json:"description,omitempty"`
}

// Package regions holds the region editing operations of the annotation canvas:
// tag toggling, attribute edits, paste offsets and tag hot keys.
package regions

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/menta2k/pointrect/pkg/types"
)

// PasteMargin is how far a pasted region moves off a region already at its spot
const PasteMargin = 10.0

// TagTransformer rewrites a region's tag list for one tag
type TagTransformer func(tags []string, tag string) []string

// ToggleTag adds tag when absent and removes it when present
func ToggleTag(tags []string, tag string) []string {
	if lo.Contains(tags, tag) {
		return lo.Without(tags, tag)
	}
	return append(clone(tags), tag)
}

// ToggleSingleTag leaves tag as the only tag, or no tags when it was already present
func ToggleSingleTag(tags []string, tag string) []string {
	if lo.Contains(tags, tag) {
		return []string{}
	}
	return []string{tag}
}

// AddIfMissing appends tag unless present
func AddIfMissing(tags []string, tag string) []string {
	if lo.Contains(tags, tag) {
		return clone(tags)
	}
	return append(clone(tags), tag)
}

// RemoveIfContained drops tag
func RemoveIfContained(tags []string, tag string) []string {
	return lo.Without(tags, tag)
}

// AddAllIfMissing appends every tag in newTags that is absent
func AddAllIfMissing(tags []string, newTags []string) []string {
	out := clone(tags)
	for _, t := range newTags {
		out = AddIfMissing(out, t)
	}
	return out
}

// ApplyTag applies tag to every selected region and returns the updated copies.
// With locked tags, a tag that is locked is added and one that is not is removed.
// Nothing changes when there is no selection, or no tag and no locked tags.
func ApplyTag(selected []types.Region, tag string, lockedTags []string, singleTag bool) []types.Region {
	if (tag == "" && len(lockedTags) == 0) || len(selected) == 0 {
		return nil
	}

	var transform TagTransformer
	switch {
	case singleTag:
		transform = ToggleSingleTag
	case len(lockedTags) == 0:
		transform = ToggleTag
	case lo.Contains(lockedTags, tag):
		transform = AddIfMissing
	default:
		transform = RemoveIfContained
	}

	return lo.Map(selected, func(r types.Region, _ int) types.Region {
		out := r.Clone()
		out.Tags = transform(out.Tags, tag)
		return out
	})
}

// AttributeForProject returns the project's spelling of key, or "" when the project has no such key
func AttributeForProject(keys []types.AttributeKey, key string) string {
	found, ok := lo.Find(keys, func(k types.AttributeKey) bool {
		return strings.EqualFold(k.Name, key)
	})
	if !ok {
		return ""
	}
	return found.Name
}

// ApplyAttribute sets key to value on the selected regions when key is one of the project's attribute keys
func ApplyAttribute(selected []types.Region, key, value string, project *types.Project) []types.Region {
	if project == nil {
		return nil
	}
	safeKey := AttributeForProject(project.AttributeKeys, key)
	if safeKey == "" {
		return nil
	}
	return lo.Map(selected, func(r types.Region, _ int) types.Region {
		out := r.Clone()
		if out.Attributes == nil {
			out.Attributes = map[string]string{}
		}
		out.Attributes[safeKey] = value
		return out
	})
}

// UpdateRegions replaces regions in all that share an id with an update
func UpdateRegions(all, updates []types.Region) []types.Region {
	byID := lo.KeyBy(updates, func(r types.Region) string { return r.ID })
	return lo.Map(all, func(r types.Region, _ int) types.Region {
		if u, ok := byID[r.ID]; ok {
			return u.Clone()
		}
		return r.Clone()
	})
}

// DeleteRegions removes regions whose id appears in remove
func DeleteRegions(all, remove []types.Region) []types.Region {
	ids := lo.SliceToMap(remove, func(r types.Region) (string, struct{}) { return r.ID, struct{}{} })
	return lo.FilterMap(all, func(r types.Region, _ int) (types.Region, bool) {
		_, drop := ids[r.ID]
		return r.Clone(), !drop
	})
}

// DuplicateAndMove copies regions for pasting. Each copy gets a fresh id and is shifted by
// PasteMargin for as long as another region already sits at its top-left corner, staying inside the asset.
func DuplicateAndMove(toPaste, existing []types.Region, size types.Size) []types.Region {
	occupied := lo.FilterMap(existing, func(r types.Region, _ int) (types.Point, bool) {
		if r.BoundingBox == nil {
			return types.Point{}, false
		}
		return types.Point{X: r.BoundingBox.Left, Y: r.BoundingBox.Top}, true
	})

	out := make([]types.Region, 0, len(toPaste))
	for _, r := range toPaste {
		dup := r.Clone()
		dup.ID = uuid.NewString()
		if dup.BoundingBox == nil {
			out = append(out, dup)
			continue
		}

		bb := dup.BoundingBox
		target := types.Point{X: bb.Left, Y: bb.Top}
		for i := 0; i <= len(occupied) && lo.Contains(occupied, target); i++ {
			target.X += PasteMargin
			target.Y += PasteMargin
		}
		target.X = clamp(target.X, 0, size.Width-bb.Width)
		target.Y = clamp(target.Y, 0, size.Height-bb.Height)

		dx, dy := target.X-bb.Left, target.Y-bb.Top
		bb.Left, bb.Top = target.X, target.Y
		for i := range dup.Points {
			dup.Points[i].X += dx
			dup.Points[i].Y += dy
		}
		occupied = append(occupied, target)
		out = append(out, dup)
	}
	return out
}

// TagForHotKey maps "1".."9" to the first nine tags and "0" to the tenth.
// Modified keys such as "ctrl+3" are accepted. Returns nil when no tag matches.
func TagForHotKey(key string, tags []types.Tag) *types.Tag {
	n, err := strconv.Atoi(key)
	if err != nil {
		parts := strings.Split(key, "+")
		if len(parts) < 2 {
			return nil
		}
		if n, err = strconv.Atoi(parts[len(parts)-1]); err != nil {
			return nil
		}
	}

	var index int
	switch {
	case n == 0 && len(tags) >= 10:
		index = 9
	case n >= 1 && n <= 9:
		index = n - 1
	default:
		return nil
	}
	if index >= len(tags) {
		return nil
	}
	t := tags[index]
	return &t
}

// IsEmpty reports whether a drawn box has no area
func IsEmpty(bb types.BoundingBox) bool {
	return bb.Area() == 0
}

func clone(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

func clamp(v, low, high float64) float64 {
	if high < low {
		high = low
	}
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

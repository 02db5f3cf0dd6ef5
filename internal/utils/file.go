package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/pointrect/pkg/types"
)

// MetadataSuffix is the file suffix of per-asset metadata documents
const MetadataSuffix = "-asset.json"

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsMetadataFile reports whether filename is an asset metadata document
func IsMetadataFile(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), MetadataSuffix)
}

// GenerateOutputFilename generates an output filename based on input and parameters
func GenerateOutputFilename(inputFile, outputDir, prefix, suffix, format string) string {
	baseName := filepath.Base(inputFile)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))

	if format == "" {
		format = GetFileExtension(inputFile)
		if format == "" {
			format = "jpg"
		}
	}
	outputName := fmt.Sprintf("%s%s%s.%s", prefix, nameWithoutExt, suffix, format)
	return filepath.Join(outputDir, outputName)
}

// ListMetadataFiles returns the metadata documents under path in lexical order.
// A path naming a single file is returned as is.
func ListMetadataFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && IsMetadataFile(p) {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// ReadMetadata decodes one asset metadata document
func ReadMetadata(path string) (*types.AssetMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var md types.AssetMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &md, nil
}

// WriteMetadata encodes md to path with indentation
func WriteMetadata(path string, md *types.AssetMetadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// UpdateMetadata writes md to dst, keeping the fields of the document at src that md does not model.
// Regions are matched to their originals by id. A missing src writes md as is.
func UpdateMetadata(src, dst string, md *types.AssetMetadata) error {
	orig, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return WriteMetadata(dst, md)
	}
	if err != nil {
		return err
	}
	var base map[string]json.RawMessage
	if err := json.Unmarshal(orig, &base); err != nil {
		return errors.Wrapf(err, "parse %s", src)
	}
	encoded, err := json.Marshal(md)
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	var next map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &next); err != nil {
		return errors.Wrap(err, "encode metadata")
	}

	merged := overlay(base, next)
	if a, ok := next["asset"]; ok {
		merged["asset"] = overlayRaw(base["asset"], a)
	}
	if r, ok := next["regions"]; ok {
		merged["regions"] = overlayRegions(base["regions"], r)
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func overlay(base, next map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(base)+len(next))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

// overlayRaw merges two JSON objects; anything else yields next
func overlayRaw(base, next json.RawMessage) json.RawMessage {
	var b, n map[string]json.RawMessage
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(next, &n) != nil || b == nil {
		return next
	}
	data, err := json.Marshal(overlay(b, n))
	if err != nil {
		return next
	}
	return data
}

func overlayRegions(base, next json.RawMessage) json.RawMessage {
	var b []json.RawMessage
	var n []json.RawMessage
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(next, &n) != nil {
		return next
	}
	byID := make(map[string]json.RawMessage, len(b))
	for _, r := range b {
		if id := regionID(r); id != "" {
			byID[id] = r
		}
	}
	for i, r := range n {
		if orig, ok := byID[regionID(r)]; ok {
			n[i] = overlayRaw(orig, r)
		}
	}
	data, err := json.Marshal(n)
	if err != nil {
		return next
	}
	return data
}

func regionID(raw json.RawMessage) string {
	var r struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &r)
	return r.ID
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	result := filename
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}
	return strings.Trim(result, " .")
}

package domain

import "fmt"

// ExportVersion tags the shape of a portability export so downstream
// importers can branch on it.
type ExportVersion string

const (
	ExportVersionV1 ExportVersion = "1.0"
)

// CurrentExportVersion is written into every new portability export.
const CurrentExportVersion = ExportVersionV1

var exportVersionOrder = map[ExportVersion]int{
	ExportVersionV1: 1,
}

// ParseExportVersion validates an export version read back from storage.
func ParseExportVersion(s string) (ExportVersion, error) {
	v := ExportVersion(s)
	if _, ok := exportVersionOrder[v]; !ok {
		return "", fmt.Errorf("unknown export version: %s", s)
	}
	return v, nil
}

// Supersedes reports whether v is newer than other.
func (v ExportVersion) Supersedes(other ExportVersion) bool {
	return exportVersionOrder[v] > exportVersionOrder[other]
}

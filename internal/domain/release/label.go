package release

import (
	"fmt"
	"path/filepath"
	"strings"
)

// LabelLength is the exact number of characters of a release label.
const LabelLength = 10

// DeriveLabel extracts the release label from an uploaded file name:
// the base name up to the first dot, then the part before the first underscore.
// "1021000001_build.zip" gives "1021000001".
func DeriveLabel(fileName string) string {
	name := filepath.Base(filepath.ToSlash(fileName))
	name, _, _ = strings.Cut(name, ".")
	name, _, _ = strings.Cut(name, "_")

	return name
}

// VersionNumber extracts the compact version number from a declared version name.
//
// The name is split on "_" and the last segment whose leading "-" part carries a
// dotted version is used ("10.2.1_2024-06-01-01" and "PRO11_10.2.1-rc" both give
// "1021"). Without a dotted segment the last segment is used. Dots are removed.
func VersionNumber(versionName string) string {
	segments := strings.Split(strings.TrimSpace(versionName), "_")

	chosen := leadingPart(segments[len(segments)-1])

	for i := len(segments) - 1; i >= 0; i-- {
		if lead := leadingPart(segments[i]); strings.Contains(lead, ".") {
			chosen = lead
			break
		}
	}

	return strings.ReplaceAll(chosen, ".", "")
}

// CheckLabel derives the label of fileName and verifies it against versionName.
func CheckLabel(fileName, versionName string) (string, error) {
	label := DeriveLabel(fileName)
	if len(label) != LabelLength {
		return "", fmt.Errorf("%w: label %q must be %d characters", ErrInvalidLabel, label, LabelLength)
	}

	versionNumber := VersionNumber(versionName)
	if versionNumber == "" {
		return "", fmt.Errorf("%w: version name %q has no version number", ErrInvalidLabel, versionName)
	}

	if !strings.HasPrefix(label, versionNumber) {
		return "", fmt.Errorf("%w: label %q does not start with %q", ErrInvalidLabel, label, versionNumber)
	}

	return label, nil
}

func leadingPart(segment string) string {
	lead, _, _ := strings.Cut(segment, "-")

	return lead
}

package release

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

const (
	// VersionInfoFilename names the version pointer, both live and inside a bundle.
	VersionInfoFilename = "versionInfo.json"
	// ReleaseNoteFilename names the release notes document inside a bundle.
	ReleaseNoteFilename = "releaseNote.json"
	// ChecksumsFilename names the optional checksum manifest inside a bundle.
	ChecksumsFilename = "checksums.yaml"
	// PrevReleasesFilename names the live release ledger.
	PrevReleasesFilename = "prevReleases.json"

	// DefaultMessageType is the msgType of a freshly created ledger.
	DefaultMessageType = 2

	ledgerReleasesKey = "releases"
	ledgerMsgTypeKey  = "msgType"

	// CreatedDateLayout formats ReleaseRecord.CreatedDate.
	CreatedDateLayout = "20060102"
)

// VersionPointer names the currently published application and installer versions.
// The same shape is carried by versionInfo.json inside a release bundle.
type VersionPointer struct {
	// App is the application version.
	App string `json:"app,omitempty"`
	// Installer is the installer version.
	Installer string `json:"installer,omitempty"`
}

// IsComplete reports whether both versions are set.
func (p VersionPointer) IsComplete() bool {
	return p.App != "" && p.Installer != ""
}

// Merge returns p with every non-empty field of partial applied.
func (p VersionPointer) Merge(partial VersionPointer) VersionPointer {
	if partial.App != "" {
		p.App = partial.App
	}

	if partial.Installer != "" {
		p.Installer = partial.Installer
	}

	return p
}

// ReleaseNote maps a release version to its locale-code -> text notes.
type ReleaseNote map[string]map[string]string

// For returns the notes of version. A note document with a single entry is
// accepted for any version.
func (n ReleaseNote) For(version string) (map[string]string, bool) {
	if notes, ok := n[version]; ok {
		return notes, true
	}

	if len(n) != 1 {
		return nil, false
	}

	for _, notes := range n {
		return notes, true
	}

	return nil, false
}

// ReleaseLedger is the persisted ledger of previous releases.
type ReleaseLedger struct {
	// Releases maps a release version to its record.
	Releases map[string]ReleaseRecord `json:"releases"`
	// MsgType is an opaque message type consumed by clients.
	MsgType int `json:"msgType"`
}

// NewReleaseLedger returns an empty ledger with the default message type.
func NewReleaseLedger() *ReleaseLedger {
	return &ReleaseLedger{
		Releases: make(map[string]ReleaseRecord),
		MsgType:  DefaultMessageType,
	}
}

// UnmarshalJSON reads the ledger. Records that older writers stored next to
// "releases" are folded into Releases; an entry under "releases" wins.
// Members that do not decode as records are ignored.
func (l *ReleaseLedger) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}

	if raw, ok := members[ledgerReleasesKey]; ok {
		if err := json.Unmarshal(raw, &l.Releases); err != nil {
			return fmt.Errorf("decode releases: %w", err)
		}
	}

	if raw, ok := members[ledgerMsgTypeKey]; ok {
		if err := json.Unmarshal(raw, &l.MsgType); err != nil {
			return fmt.Errorf("decode msgType: %w", err)
		}
	}

	for version, raw := range members {
		if version == ledgerReleasesKey || version == ledgerMsgTypeKey {
			continue
		}

		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
			continue
		}

		if _, exists := l.Releases[version]; exists {
			continue
		}

		var record ReleaseRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}

		if l.Releases == nil {
			l.Releases = make(map[string]ReleaseRecord)
		}

		l.Releases[version] = record
	}

	return nil
}

// Deployed describes a release that went live.
type Deployed struct {
	// DeploymentID identifies the deployment attempt in logs and events.
	DeploymentID string
	// Label is the label derived from the uploaded file name.
	Label string
	// VersionName is the caller-declared version name.
	VersionName string
	// App is the published application version.
	App string
	// Installer is the published installer version.
	Installer string
	// ReleaseDir is the directory holding the release files.
	ReleaseDir string
	// DeployedAt is when the release metadata was committed.
	DeployedAt time.Time
}

// cloneNotes copies a locale -> text map.
func cloneNotes(notes map[string]string) map[string]string {
	if notes == nil {
		return nil
	}

	return maps.Clone(notes)
}

package packager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	domain "github.com/cha777/pro11-push-update-server/internal/domain/release"
)

// Description is the YAML input of the packager.
type Description struct {
	// Label is the ten character release label.
	Label string `yaml:"label"`
	// App is the application version published by the release.
	App string `yaml:"app"`
	// Installer is the installer version published by the release.
	Installer string `yaml:"installer"`
	// Notes maps locale codes to release note text.
	Notes map[string]string `yaml:"notes"`
}

var (
	errNoApp       = errors.New("app version is empty")
	errNoInstaller = errors.New("installer version is empty")
)

// LoadDescription reads and validates a description file.
func LoadDescription(path string) (*Description, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand description path: %w", err)
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read description: %w", err)
	}

	var desc Description
	if err = yaml.Unmarshal(contents, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal description: %w", err)
	}

	if err = desc.Validate(""); err != nil {
		return nil, err
	}

	return &desc, nil
}

// Validate checks the description against what the server will accept. When
// versionName is set the label is cross-checked with it.
func (d *Description) Validate(versionName string) error {
	switch {
	case d.App == "":
		return errNoApp
	case d.Installer == "":
		return errNoInstaller
	}

	if len(d.Label) != domain.LabelLength {
		return fmt.Errorf("%w: label %q must be %d characters", domain.ErrInvalidLabel, d.Label, domain.LabelLength)
	}

	if versionName == "" {
		versionName = d.App
	} else if _, err := domain.CheckLabel(d.ArchiveName(), versionName); err != nil {
		return err
	}

	record := domain.NewReleaseRecord(d.App, versionName, d.Notes)
	record.CreatedDate = time.Now().Format(domain.CreatedDateLayout)

	if err := record.Validate(); err != nil {
		return fmt.Errorf("release notes: %w", err)
	}

	return nil
}

// ArchiveName is the file name of the bundle.
func (d *Description) ArchiveName() string {
	return d.Label + "_build.zip"
}

// nestedName is the path of the installer archive inside the bundle.
func (d *Description) nestedName() string {
	return d.Label + "/" + d.Label + "_installer.zip"
}

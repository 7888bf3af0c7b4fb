package release

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Locale codes with a meaning for record validation.
const (
	LocaleEnglish = "EN"
	LocaleArabic  = "AR"
	LocaleFrench  = "FR"
)

const (
	fieldVersion     = "version"
	fieldVersionName = "versionName"
	fieldCreatedDate = "createdDate"
)

var (
	errMissingVersion     = errors.New("version is empty")
	errMissingVersionName = errors.New("versionName is empty")
	errMissingCreatedDate = errors.New("createdDate is empty")
	errMissingEnglish     = errors.New("EN release note is missing")
	errMissingTranslation = errors.New("AR or FR release note is missing")
)

// ReleaseRecord is one entry of the release ledger. On disk the locale notes sit
// next to the fixed fields: {"EN": "...", "AR": "...", "version": ..., ...}.
type ReleaseRecord struct {
	// Version is the application version the record belongs to.
	Version string
	// VersionName is the caller-declared version name.
	VersionName string
	// CreatedDate is the calendar date the record was written, formatted YYYYMMDD.
	CreatedDate string
	// Notes maps locale codes to release note text.
	Notes map[string]string
}

// NewReleaseRecord builds a record from release notes; CreatedDate is left for the store.
func NewReleaseRecord(version, versionName string, notes map[string]string) ReleaseRecord {
	return ReleaseRecord{
		Version:     version,
		VersionName: versionName,
		Notes:       cloneNotes(notes),
	}
}

// Validate checks the ledger invariant: EN plus AR or FR, and non-empty
// version, versionName and createdDate.
func (r ReleaseRecord) Validate() error {
	var errs []error

	if r.Version == "" {
		errs = append(errs, errMissingVersion)
	}

	if r.VersionName == "" {
		errs = append(errs, errMissingVersionName)
	}

	if r.CreatedDate == "" {
		errs = append(errs, errMissingCreatedDate)
	}

	if _, ok := r.Notes[LocaleEnglish]; !ok {
		errs = append(errs, errMissingEnglish)
	}

	_, hasArabic := r.Notes[LocaleArabic]
	_, hasFrench := r.Notes[LocaleFrench]

	if !hasArabic && !hasFrench {
		errs = append(errs, errMissingTranslation)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidReleaseRecord, errors.Join(errs...))
	}

	return nil
}

// Clone returns a deep copy of the record.
func (r ReleaseRecord) Clone() ReleaseRecord {
	r.Notes = cloneNotes(r.Notes)

	return r
}

// MarshalJSON writes the notes in locale order followed by the fixed fields.
func (r ReleaseRecord) MarshalJSON() ([]byte, error) {
	locales := make([]string, 0, len(r.Notes))
	for locale := range r.Notes {
		if isReservedField(locale) {
			continue
		}

		locales = append(locales, locale)
	}

	slices.Sort(locales)

	var buf bytes.Buffer

	buf.WriteByte('{')

	for _, locale := range locales {
		if err := writeMember(&buf, locale, r.Notes[locale]); err != nil {
			return nil, err
		}

		buf.WriteByte(',')
	}

	fixed := [...][2]string{
		{fieldVersion, r.Version},
		{fieldVersionName, r.VersionName},
		{fieldCreatedDate, r.CreatedDate},
	}

	for i, member := range fixed {
		if i > 0 {
			buf.WriteByte(',')
		}

		if err := writeMember(&buf, member[0], member[1]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads the fixed fields and collects every other string member as a note.
func (r *ReleaseRecord) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}

	decoded := ReleaseRecord{
		Notes: make(map[string]string, len(members)),
	}

	for key, raw := range members {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("release record member %q: %w", key, err)
		}

		switch key {
		case fieldVersion:
			decoded.Version = value
		case fieldVersionName:
			decoded.VersionName = value
		case fieldCreatedDate:
			decoded.CreatedDate = value
		default:
			decoded.Notes[key] = value
		}
	}

	*r = decoded

	return nil
}

func writeMember(buf *bytes.Buffer, key, value string) error {
	if err := writeString(buf, key); err != nil {
		return err
	}

	buf.WriteByte(':')

	return writeString(buf, value)
}

// writeString encodes s as a JSON string without HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	var encoded bytes.Buffer

	encoder := json.NewEncoder(&encoded)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(s); err != nil {
		return err
	}

	buf.Write(bytes.TrimSuffix(encoded.Bytes(), []byte("\n")))

	return nil
}

func isReservedField(key string) bool {
	return key == fieldVersion || key == fieldVersionName || key == fieldCreatedDate
}

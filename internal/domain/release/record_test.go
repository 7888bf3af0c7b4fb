package release

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func validRecord() ReleaseRecord {
	return ReleaseRecord{
		Version:     "10.2.1",
		VersionName: "10.2.1_2024-06-01-01",
		CreatedDate: "20240601",
		Notes: map[string]string{
			LocaleEnglish: "Bug fixes",
			LocaleArabic:  "إصلاحات",
		},
	}
}

// TestReleaseRecord_Validate exercises the locale and required field invariant.
func TestReleaseRecord_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validRecord().Validate())

	// French instead of Arabic is fine.
	record := validRecord()
	delete(record.Notes, LocaleArabic)
	record.Notes[LocaleFrench] = "Corrections"
	require.NoError(t, record.Validate())

	// AR without EN.
	record = validRecord()
	delete(record.Notes, LocaleEnglish)
	require.ErrorIs(t, record.Validate(), ErrInvalidReleaseRecord)

	// EN alone.
	record = validRecord()
	delete(record.Notes, LocaleArabic)
	require.ErrorIs(t, record.Validate(), ErrInvalidReleaseRecord)

	for _, mutate := range []func(*ReleaseRecord){
		func(r *ReleaseRecord) { r.Version = "" },
		func(r *ReleaseRecord) { r.VersionName = "" },
		func(r *ReleaseRecord) { r.CreatedDate = "" },
	} {
		record = validRecord()
		mutate(&record)
		require.ErrorIs(t, record.Validate(), ErrInvalidReleaseRecord)
	}
}

// TestReleaseRecord_JSONLayout ensures notes are flattened next to the fixed fields.
func TestReleaseRecord_JSONLayout(t *testing.T) {
	t.Parallel()

	record := validRecord()
	record.Notes[LocaleEnglish] = "<b>fixes</b> & more"

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var members map[string]string
	require.NoError(t, json.Unmarshal(data, &members))
	require.Equal(t, map[string]string{
		"AR":          "إصلاحات",
		"EN":          "<b>fixes</b> & more",
		"version":     "10.2.1",
		"versionName": "10.2.1_2024-06-01-01",
		"createdDate": "20240601",
	}, members)

	var decoded ReleaseRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, record, decoded)
}

// TestReleaseRecord_UnmarshalRejectsNonString verifies non-string members are reported.
func TestReleaseRecord_UnmarshalRejectsNonString(t *testing.T) {
	t.Parallel()

	var record ReleaseRecord
	require.Error(t, json.Unmarshal([]byte(`{"version": 3}`), &record))
}

// TestReleaseRecord_Clone verifies the clone does not share the note map.
func TestReleaseRecord_Clone(t *testing.T) {
	t.Parallel()

	record := validRecord()

	cloned := record.Clone()
	require.Equal(t, record, cloned)

	cloned.Notes[LocaleEnglish] = "changed"
	require.Equal(t, "Bug fixes", record.Notes[LocaleEnglish])
}

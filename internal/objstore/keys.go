package objstore

import "fmt"

// Canonical object-store key layouts. These are authoritative: fetchers,
// checkpoints, caches, and the storage-coverage check all build keys
// through these helpers, never by hand.

// FederalPartKey is the raw CFR part XML, e.g.
// "federal/cfr/title-21/part-117.xml".
func FederalPartKey(title int, part string) string {
	return fmt.Sprintf("federal/cfr/title-%d/part-%s.xml", title, part)
}

// FederalCheckpointKey is the per-title ingestion checkpoint.
func FederalCheckpointKey(title int) string {
	return fmt.Sprintf("federal/checkpoints/cfr-title-%d.json", title)
}

// FederalCacheManifestKey is the corpus-wide pre-parse manifest.
func FederalCacheManifestKey() string {
	return "cache/federal/manifest.json"
}

// FederalTitleManifestKey is the per-title pre-parse manifest.
func FederalTitleManifestKey(title int) string {
	return fmt.Sprintf("cache/federal/title-%d/manifest.json", title)
}

// FederalCachedPartKey is the pre-parsed part JSON.
func FederalCachedPartKey(title int, part string) string {
	return fmt.Sprintf("cache/federal/title-%d/part-%s.json", title, part)
}

// StatuteSectionKey is a fetched Texas statute section page, e.g.
// "texas/statutes/PE/chapter-30/30.02.html".
func StatuteSectionKey(code, chapter, section string) string {
	return fmt.Sprintf("texas/statutes/%s/chapter-%s/%s.html", code, chapter, section)
}

// TACSectionKey is a fetched Texas Administrative Code rule page.
func TACSectionKey(title int, chapter, section string) string {
	return fmt.Sprintf("texas/tac/title-%d/chapter-%s/%s.html", title, chapter, section)
}

// StatuteCheckpointKey is the statute-family checkpoint.
func StatuteCheckpointKey() string {
	return "texas/checkpoints/statute.json"
}

// TACCheckpointKey is the admin-code-family checkpoint.
func TACCheckpointKey() string {
	return "texas/checkpoints/tac.json"
}

// CountySectionKey is a fetched county code section, e.g.
// "counties/TX-48201/chapter-14/14-21.html".
func CountySectionKey(jurisdiction, chapter, section string) string {
	return fmt.Sprintf("counties/%s/chapter-%s/%s.html", jurisdiction, chapter, section)
}

// CountyCheckpointKey is the county-family checkpoint.
func CountyCheckpointKey() string {
	return "counties/checkpoints/counties.json"
}

// MunicipalSectionKey is a parsed municipal code section, e.g.
// "municipal/TX-houston/chapter-1/1-2.json".
func MunicipalSectionKey(jurisdiction, chapter, section string) string {
	return fmt.Sprintf("municipal/%s/chapter-%s/%s.json", jurisdiction, chapter, section)
}

// MunicipalRawKey is the rendered Markdown for a city.
func MunicipalRawKey(jurisdiction string) string {
	return fmt.Sprintf("municipal/%s/raw/page.md", jurisdiction)
}

// MunicipalCheckpointKey is the municipal-family checkpoint.
func MunicipalCheckpointKey() string {
	return "municipal/checkpoints/municipal.json"
}

// WorkflowStateKey is per-instance workflow scratch state, e.g.
// "workflows/federal-title/21-20250301/embed-batch-4.json".
func WorkflowStateKey(workflow, instanceID, step string) string {
	return fmt.Sprintf("workflows/%s/%s/%s.json", workflow, instanceID, step)
}

// SourcePrefix returns the storage prefix that must be non-empty for a
// jurisdiction with ingested data; used by the storage-coverage check.
func SourcePrefix(sourceType, jurisdiction string, federalTitle int) string {
	switch sourceType {
	case "federal":
		return fmt.Sprintf("federal/cfr/title-%d/", federalTitle)
	case "state":
		return "texas/"
	case "county":
		return fmt.Sprintf("counties/%s/", jurisdiction)
	case "municipal":
		return fmt.Sprintf("municipal/%s/", jurisdiction)
	default:
		return ""
	}
}

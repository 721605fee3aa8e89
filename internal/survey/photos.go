package survey

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Bucket is the blob namespace that holds all survey photos.
const Bucket = "nutrition-photos"

const objectTimestampLayout = "20060102_150405"

type EvidenceKind string

const (
	EvidenceProvision EvidenceKind = "provision"
	EvidenceWaste     EvidenceKind = "waste"
)

var EvidenceKinds = []EvidenceKind{EvidenceProvision, EvidenceWaste}

func ParseEvidenceKind(raw string) (EvidenceKind, error) {
	switch EvidenceKind(strings.TrimSpace(raw)) {
	case EvidenceProvision:
		return EvidenceProvision, nil
	case EvidenceWaste:
		return EvidenceWaste, nil
	default:
		return "", fmt.Errorf("unknown evidence kind %q", raw)
	}
}

func (k EvidenceKind) Label() string {
	if k == EvidenceWaste {
		return "Leftover photo"
	}
	return "Served meal photo"
}

// PhotoSet maps a photo slot to the public URL of its stored blob.
type PhotoSet map[SlotKey]string

func (p PhotoSet) Clone() PhotoSet {
	out := make(PhotoSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Count returns the number of slots holding a URL.
func (p PhotoSet) Count() int {
	n := 0
	for _, v := range p {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// ObjectName builds the blob name for a photo:
// {subject}_{kind}_day{d}_{slot}_{YYYYMMDD_HHMMSS}.{ext}.
func ObjectName(subjectID string, kind EvidenceKind, slot SlotKey, at time.Time, filename string) string {
	return fmt.Sprintf("%s_%s_%s_%s.%s", subjectID, kind, slot, at.Format(objectTimestampLayout), FileExtension(filename))
}

// FileExtension returns the text after the last dot of filename, or "jpg"
// when there is none.
func FileExtension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "jpg"
	}
	return filename[idx+1:]
}

// ObjectNameFromURL recovers the blob name from a public URL: the last path
// segment.
func ObjectNameFromURL(publicURL string) string {
	raw := strings.TrimSpace(publicURL)
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		raw = parsed.Path
	}
	raw = strings.TrimRight(raw, "/")
	if idx := strings.LastIndex(raw, "/"); idx >= 0 {
		raw = raw[idx+1:]
	}
	if unescaped, err := url.PathUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}

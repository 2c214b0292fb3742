package audit

import (
	"fmt"
	"sort"
	"strings"
)

// Severity ranks findings. Higher is worse.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity is the inverse of String.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Kind names a class of finding.
type Kind string

const (
	KindMissingImage       Kind = "missing_image"
	KindMissingLabel       Kind = "missing_label"
	KindUnprocessedImage   Kind = "unprocessed_image"
	KindEmptyLabel         Kind = "empty_label"
	KindStaleEmptyLabel    Kind = "stale_empty_label"
	KindOrphanLabel        Kind = "orphan_label"
	KindSplitContamination Kind = "split_contamination"
	KindDuplicateStem      Kind = "duplicate_stem"
	KindIDTypeMismatch     Kind = "id_type_mismatch"
	KindOrphanAnnotation   Kind = "orphan_annotation"
	KindInvalidImage       Kind = "invalid_image"
	KindCategoryConfig     Kind = "category_config"
	KindMalformedLabel     Kind = "malformed_label"
	KindOutOfRangeBox      Kind = "out_of_range_box"
	KindUnknownClass       Kind = "unknown_class"
	KindDimensionMismatch  Kind = "dimension_mismatch"
	KindUnreadableImage    Kind = "unreadable_image"
	KindNoValLabels        Kind = "no_val_labels"
)

var kindSeverity = map[Kind]Severity{
	KindMissingImage:       SeverityError,
	KindMissingLabel:       SeverityError,
	KindUnprocessedImage:   SeverityWarning,
	KindEmptyLabel:         SeverityInfo,
	KindStaleEmptyLabel:    SeverityWarning,
	KindOrphanLabel:        SeverityWarning,
	KindSplitContamination: SeverityError,
	KindDuplicateStem:      SeverityWarning,
	KindIDTypeMismatch:     SeverityCritical,
	KindOrphanAnnotation:   SeverityWarning,
	KindInvalidImage:       SeverityError,
	KindCategoryConfig:     SeverityCritical,
	KindMalformedLabel:     SeverityError,
	KindOutOfRangeBox:      SeverityError,
	KindUnknownClass:       SeverityError,
	KindDimensionMismatch:  SeverityWarning,
	KindUnreadableImage:    SeverityWarning,
	KindNoValLabels:        SeverityWarning,
}

// Severity returns the fixed severity of a kind.
func (k Kind) Severity() Severity { return kindSeverity[k] }

// Finding is one observation about the dataset.
type Finding struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Split    string   `json:"split,omitempty"`
	Stem     string   `json:"stem,omitempty"`
	Path     string   `json:"path,omitempty"`
	Detail   string   `json:"detail"`
}

func (f Finding) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", f.Severity, f.Kind)
	if f.Split != "" {
		fmt.Fprintf(&b, " %s", f.Split)
	}
	if f.Stem != "" {
		fmt.Fprintf(&b, "/%s", f.Stem)
	}
	fmt.Fprintf(&b, ": %s", f.Detail)
	return b.String()
}

// SplitStats counts what the auditor saw in one split.
type SplitStats struct {
	Images      int `json:"images"`
	Labels      int `json:"labels"`
	EmptyLabels int `json:"empty_labels"`
	Objects     int `json:"objects"`
}

// Report is the result of an audit. Findings are sorted by severity
// (worst first), then kind, split, stem and path.
type Report struct {
	Root     string                `json:"root"`
	Splits   map[string]SplitStats `json:"splits"`
	Findings []Finding             `json:"findings"`
	Probed   bool                  `json:"probed"`
}

func (r *Report) add(kind Kind, split, stem, path, detail string) {
	r.Findings = append(r.Findings, Finding{
		Kind:     kind,
		Severity: kind.Severity(),
		Split:    split,
		Stem:     stem,
		Path:     path,
		Detail:   detail,
	})
}

func (r *Report) sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Split != b.Split {
			return a.Split < b.Split
		}
		if a.Stem != b.Stem {
			return a.Stem < b.Stem
		}
		return a.Path < b.Path
	})
}

// Counts returns the number of findings per kind.
func (r *Report) Counts() map[Kind]int {
	out := make(map[Kind]int)
	for _, f := range r.Findings {
		out[f.Kind]++
	}
	return out
}

// SeverityCounts returns the number of findings per severity name.
func (r *Report) SeverityCounts() map[string]int {
	out := make(map[string]int)
	for _, f := range r.Findings {
		out[f.Severity.String()]++
	}
	return out
}

// Of returns the findings of the given kinds in report order.
func (r *Report) Of(kinds ...Kind) []Finding {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []Finding
	for _, f := range r.Findings {
		if want[f.Kind] {
			out = append(out, f)
		}
	}
	return out
}

// MaxSeverity returns the worst severity present, or SeverityInfo when empty.
func (r *Report) MaxSeverity() Severity {
	worst := SeverityInfo
	for _, f := range r.Findings {
		if f.Severity > worst {
			worst = f.Severity
		}
	}
	return worst
}

// HasCritical reports whether any finding is critical.
func (r *Report) HasCritical() bool { return r.MaxSeverity() == SeverityCritical }

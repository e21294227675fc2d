package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ContentDepth records how much of the source backs a finding.
type ContentDepth string

const (
	DepthSnippet       ContentDepth = "snippet"
	DepthPartialScrape ContentDepth = "partial_scrape"
	DepthFullScrape    ContentDepth = "full_scrape"
)

// Rank orders depths: full > partial > snippet. Unknown depths rank 0.
func (d ContentDepth) Rank() int {
	switch d {
	case DepthSnippet:
		return 1
	case DepthPartialScrape:
		return 2
	case DepthFullScrape:
		return 3
	default:
		return 0
	}
}

// RicherThan reports whether d is strictly richer than other.
func (d ContentDepth) RicherThan(other ContentDepth) bool {
	return d.Rank() > other.Rank()
}

// VerificationStatus records the outcome of source verification.
type VerificationStatus string

const (
	VerificationVerified  VerificationStatus = "verified"
	VerificationPartial   VerificationStatus = "partial"
	VerificationFailed    VerificationStatus = "failed"
	VerificationUnchecked VerificationStatus = "unchecked"
)

// Valid reports whether the status is known.
func (v VerificationStatus) Valid() bool {
	switch v {
	case VerificationVerified, VerificationPartial, VerificationFailed, VerificationUnchecked:
		return true
	default:
		return false
	}
}

// Quality tiers bound Finding.QualityScore.
const (
	MinQualityScore = 0
	MaxQualityScore = 5
)

// Finding is a single source-attributed claim stored in the evidence store.
// Findings are append-only: a stored finding is only ever replaced by a
// richer version with the same id.
type Finding struct {
	ID                 string             `json:"id"`
	RunID              string             `json:"run_id"`
	Content            string             `json:"content_text"`
	SourceURL          string             `json:"source_url"`
	SourceTitle        string             `json:"source_title"`
	SubtaskID          SubtaskID          `json:"subtask_id"`
	WorkerID           string             `json:"worker_id"`
	CreatedAt          time.Time          `json:"created_at"`
	Verified           bool               `json:"verified"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	ContentDepth       ContentDepth       `json:"content_depth"`
	QualityScore       int                `json:"quality_score"`
	Embedding          []float32          `json:"embedding_vector,omitempty"`
	SearchMode         SearchMode         `json:"search_mode"`
}

// FindingID derives the stable id of a finding from its source and subtask.
func FindingID(sourceURL string, subtaskID SubtaskID) string {
	h := sha256.New()
	h.Write([]byte(NormalizeURL(sourceURL)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(int(subtaskID))))
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// NormalizeURL drops fragments, trailing slashes and host case so that
// trivially different spellings of a source collapse to one id.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// Host returns the lowercase host of the finding's source.
func (f *Finding) Host() string {
	return HostOf(f.SourceURL)
}

// HostOf returns the lowercase host of a URL without a leading "www.".
func HostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Validate checks the finding at the store boundary.
func (f *Finding) Validate() error {
	if strings.TrimSpace(f.SourceURL) == "" {
		return ErrValidation(CodeInvalidFinding, "finding has no source url")
	}
	if strings.TrimSpace(f.Content) == "" {
		return ErrValidation(CodeInvalidFinding, fmt.Sprintf("finding for %s has empty content", f.SourceURL))
	}
	if f.SubtaskID <= 0 {
		return ErrValidation(CodeInvalidFinding, "finding has no subtask id")
	}
	if f.ContentDepth.Rank() == 0 {
		return ErrValidation(CodeInvalidFinding, fmt.Sprintf("invalid content depth %q", f.ContentDepth))
	}
	if !f.VerificationStatus.Valid() {
		return ErrValidation(CodeInvalidFinding, fmt.Sprintf("invalid verification status %q", f.VerificationStatus))
	}
	if f.QualityScore < MinQualityScore || f.QualityScore > MaxQualityScore {
		return ErrValidation(CodeInvalidFinding, fmt.Sprintf("quality score %d out of range", f.QualityScore))
	}
	if !f.SearchMode.Valid() {
		return ErrValidation(CodeInvalidFinding, fmt.Sprintf("invalid search mode %q", f.SearchMode))
	}
	if f.Verified && f.ContentDepth == DepthSnippet {
		return ErrValidation(CodeInvalidFinding, "snippet-only finding cannot be verified")
	}
	return nil
}

// Clone returns a copy that shares no slices with f.
func (f Finding) Clone() Finding {
	f.Embedding = append([]float32(nil), f.Embedding...)
	return f
}

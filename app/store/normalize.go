package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

const unknownName = "Unknown"

// rawApplicant is the most permissive object form of stored applicants.
// AppliedAt is kept as a string so a malformed timestamp doesn't reject the whole record.
type rawApplicant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	User      string `json:"user"`
	Contact   string `json:"contact"`
	AppliedAt string `json:"appliedAt"`
}

// NormalizeApplicants converts stored applicant records of any historical shape into canonical applicants.
// A plain JSON string is a legacy applicant identified by name, an object keeps its fields with defaults,
// anything else becomes an unknown applicant. Missing ids are derived from job id and position,
// missing application times fall back to the job creation time, so the result is stable between reads.
func NormalizeApplicants(jobID string, fallback time.Time, raws []json.RawMessage) []Applicant {
	res := make([]Applicant, 0, len(raws))
	for i, raw := range raws {
		res = append(res, CanonicalApplicant(jobID, i, fallback, decodeApplicant(raw)))
	}
	return res
}

// CanonicalApplicants applies CanonicalApplicant to structured applicants read from a backend
func CanonicalApplicants(jobID string, fallback time.Time, apps []Applicant) []Applicant {
	res := make([]Applicant, 0, len(apps))
	for i, a := range apps {
		res = append(res, CanonicalApplicant(jobID, i, fallback, a))
	}
	return res
}

// CanonicalApplicant fills defaults of a single applicant at position idx of the job
func CanonicalApplicant(jobID string, idx int, fallback time.Time, a Applicant) Applicant {
	if a.ID == "" {
		a.ID = legacyID(jobID, idx)
	}
	if a.Name == "" {
		a.Name = a.User
	}
	if a.Name == "" {
		a.Name = unknownName
	}
	if a.AppliedAt.IsZero() {
		a.AppliedAt = fallback
	}
	return a
}

func decodeApplicant(raw json.RawMessage) Applicant {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Applicant{}
	}

	var name string
	if err := json.Unmarshal(trimmed, &name); err == nil {
		return Applicant{Name: name, User: name}
	}

	var rec rawApplicant
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return Applicant{}
	}
	res := Applicant{ID: rec.ID, Name: rec.Name, User: rec.User, Contact: rec.Contact}
	if rec.AppliedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, rec.AppliedAt); err == nil {
			res.AppliedAt = ts
		}
	}
	return res
}

// legacyID makes a stable id for applicants stored without one
func legacyID(jobID string, idx int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", jobID, idx)))
	return "legacy_" + hex.EncodeToString(h[:8])
}

package server

import (
	"reportline/internal/domain"
)

// ReportResponse mirrors the snapshot field names so API consumers and the
// on-disk format agree. Timestamps are epoch milliseconds.
type ReportResponse struct {
	ID                 string `json:"id"`
	ReporterID         string `json:"reporterId"`
	ReporterName       string `json:"reporterName"`
	ViolatorName       string `json:"violatorName"`
	ViolatorID         string `json:"violatorId,omitempty"`
	Reason             string `json:"reason"`
	Comment            string `json:"comment"`
	CreatedAt          int64  `json:"createdAt"`
	Status             string `json:"status"`
	AdminComment       string `json:"adminComment,omitempty"`
	ReviewedBy         string `json:"reviewedBy,omitempty"`
	ReviewedByRemoteID string `json:"reviewedByRemoteId,omitempty"`
	ReviewedAt         int64  `json:"reviewedAt,omitempty"`
}

type SessionResponse struct {
	Actor        string `json:"actor"`
	Step         string `json:"step"`
	ViolatorName string `json:"violatorName,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Comment      string `json:"comment,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

type EffectResponse struct {
	Kind   string `json:"kind"`
	Step   string `json:"step,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ConfirmResponse struct {
	Created bool            `json:"created"`
	Report  *ReportResponse `json:"report,omitempty"`
}

type StatsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

func reportResponse(r domain.Report) ReportResponse {
	resp := ReportResponse{
		ID:                 r.ID,
		ReporterID:         r.Reporter.ID,
		ReporterName:       r.Reporter.Name,
		ViolatorName:       r.ViolatorName,
		ViolatorID:         r.ViolatorID,
		Reason:             r.Reason,
		Comment:            r.Comment,
		CreatedAt:          r.CreatedAt.UnixMilli(),
		Status:             string(r.Status),
		AdminComment:       r.AdminComment,
		ReviewedBy:         r.ReviewedBy,
		ReviewedByRemoteID: r.ReviewedByRemoteID,
	}
	if !r.ReviewedAt.IsZero() {
		resp.ReviewedAt = r.ReviewedAt.UnixMilli()
	}
	return resp
}

func mapReports(items []domain.Report) []ReportResponse {
	out := make([]ReportResponse, 0, len(items))
	for _, r := range items {
		out = append(out, reportResponse(r))
	}
	return out
}

func sessionResponse(s domain.Session) SessionResponse {
	var created int64
	if !s.CreatedAt.IsZero() {
		created = s.CreatedAt.UnixMilli()
	}
	return SessionResponse{
		Actor:        s.Actor.Name,
		Step:         string(s.Step),
		ViolatorName: s.ViolatorName,
		Reason:       s.Reason,
		Comment:      s.Comment,
		CreatedAt:    created,
	}
}

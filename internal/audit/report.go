package audit

import (
	"context"
	"time"
)

// reportLimit caps how many records a report reads.
const reportLimit = 1000

// Report summarises the records of a time range.
type Report struct {
	From            time.Time      `json:"from"`
	To              time.Time      `json:"to"`
	TotalActions    int            `json:"totalActions"`
	ActionsByType   map[string]int `json:"actionsByType"`
	ActionsByUser   map[string]int `json:"actionsByUser"`
	CriticalActions int            `json:"criticalActions"`
	Records         []Record       `json:"records"`
}

// BuildReport reads at most 1000 records between from and to.
func BuildReport(ctx context.Context, store Store, from, to time.Time) (Report, error) {
	page, err := store.List(ctx, Query{From: from, To: to, Limit: reportLimit})
	if err != nil {
		return Report{}, err
	}

	report := Report{
		From:          from,
		To:            to,
		TotalActions:  len(page.Records),
		ActionsByType: make(map[string]int),
		ActionsByUser: make(map[string]int),
		Records:       page.Records,
	}
	for _, rec := range page.Records {
		report.ActionsByType[rec.Action]++
		report.ActionsByUser[rec.UserID]++
		if rec.Severity == SeverityCritical {
			report.CriticalActions++
		}
	}
	return report, nil
}

package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// ReportKind names a summary report.
type ReportKind string

const (
	ReportDashboard ReportKind = "dashboard"
	ReportBriefing  ReportKind = "briefing"
	ReportEOD       ReportKind = "eod"
	ReportWeekly    ReportKind = "weekly"
)

// AllReportKinds lists every report kind.
var AllReportKinds = []ReportKind{ReportDashboard, ReportBriefing, ReportEOD, ReportWeekly}

// ParseReportKind validates a report kind name.
func ParseReportKind(s string) (ReportKind, error) {
	for _, k := range AllReportKinds {
		if string(k) == strings.ToLower(s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown report kind %q (want dashboard, briefing, eod or weekly)", s)
}

// period is the look-back window of archived outcomes in the report.
func (k ReportKind) period() time.Duration {
	if k == ReportWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// ActionCounter reports today's outbound action counts per channel.
type ActionCounter interface {
	CountActionsByChannel(day time.Time) (map[string]int, error)
}

// Report is a read-only snapshot of the engine.
type Report struct {
	Kind             ReportKind
	Generated        time.Time
	Counts           map[models.TaskState]int
	Outcomes         map[models.TaskState]int
	PendingApprovals []models.ApprovalRequest
	Analytics        *models.ApprovalAnalytics
	ActionsToday     map[string]int
}

// Reporter builds summary reports and writes them to the reports folder.
// Building a report never changes task or approval state.
type Reporter interface {
	Build(kind ReportKind) (*Report, error)
	Generate(kind ReportKind) (string, error)
}

type fileReporter struct {
	dir       string
	tasks     TaskRepository
	approvals ApprovalEngine
	actions   ActionCounter
	now       func() time.Time
}

// NewReporter creates a Reporter writing into basePath/reports.
func NewReporter(basePath string, tasks TaskRepository, approvals ApprovalEngine, actions ActionCounter) Reporter {
	return &fileReporter{
		dir:       filepath.Join(basePath, "reports"),
		tasks:     tasks,
		approvals: approvals,
		actions:   actions,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *fileReporter) Build(kind ReportKind) (*Report, error) {
	now := r.now()
	rep := &Report{Kind: kind, Generated: now, Outcomes: make(map[models.TaskState]int)}

	counts, err := r.tasks.Counts()
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	rep.Counts = counts

	archived, err := r.tasks.ListArchived()
	if err != nil {
		return nil, fmt.Errorf("listing archived tasks: %w", err)
	}
	since := now.Add(-kind.period())
	for _, t := range archived {
		if t.ArchivedAt == nil || t.ArchivedAt.Before(since) {
			continue
		}
		rep.Outcomes[t.State]++
	}

	pending, err := r.approvals.List(models.ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending approvals: %w", err)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Expires.Before(pending[j].Expires) })
	rep.PendingApprovals = pending

	if rep.Analytics, err = r.approvals.Analytics(); err != nil {
		return nil, fmt.Errorf("loading approval analytics: %w", err)
	}
	if rep.ActionsToday, err = r.actions.CountActionsByChannel(now); err != nil {
		return nil, fmt.Errorf("counting actions: %w", err)
	}
	return rep, nil
}

func (r *fileReporter) Generate(kind ReportKind) (string, error) {
	rep, err := r.Build(kind)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.md", kind, rep.Generated.Format("20060102T150405")))
	if err := os.WriteFile(path, []byte(RenderReport(rep)), 0o600); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

var reportTitles = map[ReportKind]string{
	ReportDashboard: "Dashboard",
	ReportBriefing:  "Morning Briefing",
	ReportEOD:       "End of Day Summary",
	ReportWeekly:    "Weekly Review",
}

// RenderReport formats a report as markdown.
func RenderReport(rep *Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", reportTitles[rep.Kind])
	fmt.Fprintf(&sb, "Generated: %s\n\n", rep.Generated.Format("2006-01-02 15:04 UTC"))

	sb.WriteString("## Tasks\n\n| State | Count |\n|---|---|\n")
	for _, st := range models.AllStates {
		fmt.Fprintf(&sb, "| %s | %d |\n", st, rep.Counts[st])
	}

	fmt.Fprintf(&sb, "\n## Finished (last %s)\n\n", formatWindow(rep.Kind.period()))
	fmt.Fprintf(&sb, "- Done: %d\n- Rejected: %d\n- Failed: %d\n",
		rep.Outcomes[models.StateDone], rep.Outcomes[models.StateRejected], rep.Outcomes[models.StateFailed])

	fmt.Fprintf(&sb, "\n## Pending Approvals (%d)\n\n", len(rep.PendingApprovals))
	for _, a := range rep.PendingApprovals {
		fmt.Fprintf(&sb, "- %s: %s for task %s, expires %s\n",
			a.ID, actionType(a.Action), a.TaskID, a.Expires.Format("2006-01-02 15:04 UTC"))
	}

	if a := rep.Analytics; a != nil {
		sb.WriteString("\n## Approval Analytics\n\n")
		fmt.Fprintf(&sb, "- Requests: %d\n", a.TotalRequests)
		fmt.Fprintf(&sb, "- Approved: %d, Rejected: %d, Expired: %d\n", a.Approved, a.Rejected, a.Expired)
		fmt.Fprintf(&sb, "- Approval rate: %.0f%%\n", a.ApprovalRate*100)
		fmt.Fprintf(&sb, "- Mean response time: %s\n", (time.Duration(a.AverageResponseSecs) * time.Second).String())
	}

	sb.WriteString("\n## Outbound Actions Today\n\n")
	if len(rep.ActionsToday) == 0 {
		sb.WriteString("None.\n")
	}
	channels := make([]string, 0, len(rep.ActionsToday))
	for ch := range rep.ActionsToday {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		fmt.Fprintf(&sb, "- %s: %d\n", ch, rep.ActionsToday[ch])
	}
	return sb.String()
}

package cli

import (
	"strings"
	"testing"

	"github.com/valter-silva-au/ai-task-engine/internal/core"
)

func TestReportCmd_GeneratesDashboardByDefault(t *testing.T) {
	m := &reporterMock{report: sampleReport()}
	withReporter(t, m)

	out, err := execCmd(t, reportCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.generated) != 1 || m.generated[0] != core.ReportDashboard {
		t.Errorf("generated = %v, want [dashboard]", m.generated)
	}
	if !strings.Contains(out, "Wrote reports/dashboard.md") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestReportCmd_Kind(t *testing.T) {
	m := &reporterMock{report: sampleReport()}
	withReporter(t, m)

	if _, err := execCmd(t, reportCmd, "WEEKLY"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.generated) != 1 || m.generated[0] != core.ReportWeekly {
		t.Errorf("generated = %v, want [weekly]", m.generated)
	}

	if _, err := execCmd(t, reportCmd, "monthly"); err == nil {
		t.Error("expected an error for an unknown report kind")
	}
}

func TestReportCmd_Print(t *testing.T) {
	m := &reporterMock{report: sampleReport()}
	withReporter(t, m)
	reportPrint = true

	out, err := execCmd(t, reportCmd, "eod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.generated) != 0 {
		t.Error("--print should not write a report file")
	}
	if !strings.Contains(out, "## Pending Approvals (1)") || !strings.Contains(out, "apr-1") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestReportCmd_NilReporter(t *testing.T) {
	orig := Reporter
	defer func() { Reporter = orig }()
	Reporter = nil

	if _, err := execCmd(t, reportCmd); err == nil {
		t.Fatal("expected error when Reporter is nil")
	}
}

package workflow

import "testing"

func TestGenerateCodeEmpty(t *testing.T) {
	if code := GenerateCode(nil); code != "" {
		t.Fatalf("empty history should yield empty code, got %q", code)
	}
	entries := []HistoryRecord{
		{ID: 1, ToDepartment: DeptIntake, Status: StatusInProgress, CreatedAt: "2024-01-01T00:00:00Z"},
	}
	if code := GenerateCode(entries); code != "" {
		t.Fatalf("no completed entries should yield empty code, got %q", code)
	}
}

func TestGenerateCodeOnlyCompletedCount(t *testing.T) {
	entries := []HistoryRecord{
		{ID: 1, ToDepartment: DeptDesign, Status: StatusCompleted, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: 2, ToDepartment: DeptBuildReact, Status: StatusInProgress, CreatedAt: "2024-01-02T00:00:00Z"},
	}
	if code := GenerateCode(entries); code != "D" {
		t.Fatalf("expected one-letter code D, got %q", code)
	}
}

func TestGenerateCodeTemporalOrder(t *testing.T) {
	// delivery entry still in progress; three completed stages in temporal
	// order design, build, qa even though the slice is shuffled.
	entries := []HistoryRecord{
		{ID: 4, ToDepartment: DeptDelivery, Status: StatusInProgress, CreatedAt: "2024-01-04T00:00:00Z"},
		{ID: 3, ToDepartment: DeptQA, Status: StatusCompleted, CreatedAt: "2024-01-03T00:00:00Z"},
		{ID: 1, ToDepartment: DeptDesign, Status: StatusCompleted, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: 2, ToDepartment: DeptBuildPHP, Status: StatusCompleted, CreatedAt: "2024-01-02T00:00:00Z"},
	}
	if code := GenerateCode(entries); code != "DPQ" {
		t.Fatalf("expected DPQ in temporal order, got %q", code)
	}
}

func TestGenerateCodeIsPure(t *testing.T) {
	entries := []HistoryRecord{
		{ID: 2, ToDepartment: DeptQA, Status: StatusCompleted, CreatedAt: "2024-01-02T00:00:00Z"},
		{ID: 1, ToDepartment: DeptMarkup, Status: StatusCompleted, CreatedAt: "2024-01-01T00:00:00Z"},
	}
	first := GenerateCode(entries)
	second := GenerateCode(entries)
	if first != second || first != "MQ" {
		t.Fatalf("expected stable MQ, got %q then %q", first, second)
	}
	// same timestamp falls back to insertion id
	tied := []HistoryRecord{
		{ID: 2, ToDepartment: DeptQA, Status: StatusCompleted, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: 1, ToDepartment: DeptDesign, Status: StatusCompleted, CreatedAt: "2024-01-01T00:00:00Z"},
	}
	if code := GenerateCode(tied); code != "DQ" {
		t.Fatalf("tie on created_at should order by id, got %q", code)
	}
}

func TestGenerateCodeRevisitedDepartment(t *testing.T) {
	// a department occupied twice contributes twice; identity alone is
	// never used to find entries.
	entries := []HistoryRecord{
		{ID: 1, ToDepartment: DeptBuildReact, Status: StatusCompleted, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: 2, ToDepartment: DeptQA, Status: StatusCompleted, CreatedAt: "2024-01-02T00:00:00Z"},
		{ID: 3, ToDepartment: DeptBuildReact, Status: StatusCompleted, CreatedAt: "2024-01-03T00:00:00Z"},
	}
	if code := GenerateCode(entries); code != "RQR" {
		t.Fatalf("expected RQR, got %q", code)
	}
}

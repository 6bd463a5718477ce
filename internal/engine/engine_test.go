package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
	"stageline/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("studio"))
	eng.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	env := testEnv{Engine: eng, Ctx: ctx}
	for _, a := range []domain.Actor{
		{ID: "boss", Role: "administrator"},
		{ID: "pm", Role: "program_manager"},
		{ID: "dee", Role: "designer", Department: "design"},
		{ID: "carl", Role: "client"},
		{ID: "paul", Role: "php_developer", Department: "build_php"},
		{ID: "coco", Role: "coordinator", Department: "coordination"},
		{ID: "tina", Role: "team_lead", Department: "coordination"},
	} {
		if _, err := eng.RegisterActor(ctx, a); err != nil {
			t.Fatalf("register %s: %v", a.ID, err)
		}
	}
	return env
}

func (env testEnv) createProject(t *testing.T, id, category string) domain.Project {
	t.Helper()
	p, effects, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		ID:       id,
		Name:     "site relaunch",
		Category: category,
		ActorID:  "boss",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	for _, se := range effects {
		if se.Err != nil {
			t.Fatalf("side effect %s: %v", se.Name, se.Err)
		}
	}
	return p
}

func (env testEnv) setStatus(t *testing.T, projectID, status, actorID string) domain.DepartmentHistoryEntry {
	t.Helper()
	entry, err := env.Engine.UpdateWorkStatus(env.Ctx, engine.StatusUpdateOptions{ProjectID: projectID, Status: status, ActorID: actorID})
	if err != nil {
		t.Fatalf("set status %s: %v", status, err)
	}
	return entry
}

func (env testEnv) move(t *testing.T, projectID, to, actorID string) domain.Project {
	t.Helper()
	p, err := env.Engine.MoveToDepartment(env.Ctx, engine.MoveOptions{ProjectID: projectID, To: to, ActorID: actorID})
	if err != nil {
		t.Fatalf("move to %s: %v", to, err)
	}
	return p
}

func TestProjectLifecycleThroughDelivery(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t, "p1", "php backend")
	if p.CurrentDepartment != "intake" {
		t.Fatalf("new project should start in intake, got %s", p.CurrentDepartment)
	}

	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "design", "boss")

	env.setStatus(t, "p1", "in_progress", "dee")
	env.setStatus(t, "p1", "completed", "dee")
	a, err := env.Engine.RequestApproval(env.Ctx, engine.ApprovalRequestOptions{ProjectID: "p1", Type: "client_approval", ActorID: "dee"})
	if err != nil {
		t.Fatalf("request approval: %v", err)
	}
	if _, err := env.Engine.SubmitApproval(env.Ctx, engine.ApprovalDecisionOptions{ApprovalID: a.ID, Decision: "approved", ActorID: "carl"}); err != nil {
		t.Fatalf("submit approval: %v", err)
	}
	env.move(t, "p1", "markup", "boss")

	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "build_php", "boss")

	env.setStatus(t, "p1", "in_progress", "paul")
	round, err := env.Engine.StartQARound(env.Ctx, engine.QAStartOptions{ProjectID: "p1", QAType: "general", TesterID: "pm", ActorID: "boss"})
	if err != nil {
		t.Fatalf("start qa round: %v", err)
	}
	if round.RoundNumber != 1 {
		t.Fatalf("first round should be numbered 1, got %d", round.RoundNumber)
	}
	round, err = env.Engine.CompleteQARound(env.Ctx, engine.QACompleteOptions{RoundID: round.ID, Outcome: "passed", ActorID: "pm", Results: "all good"})
	if err != nil {
		t.Fatalf("complete qa round: %v", err)
	}
	p = env.move(t, "p1", "qa", "boss")
	if p.ProjectCode != "IDMP" {
		t.Fatalf("code after build should be IDMP, got %q", p.ProjectCode)
	}

	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	p = env.move(t, "p1", "delivery", "boss")
	if p.ProjectCode != "IDMPQ" {
		t.Fatalf("code after qa should be IDMPQ, got %q", p.ProjectCode)
	}

	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	pre, err := env.Engine.StartQARound(env.Ctx, engine.QAStartOptions{ProjectID: "p1", QAType: "pre_delivery", TesterID: "pm", ActorID: "pm"})
	if err != nil {
		t.Fatalf("start pre-delivery round: %v", err)
	}
	pre, err = env.Engine.CompleteQARound(env.Ctx, engine.QACompleteOptions{RoundID: pre.ID, Outcome: "passed", ActorID: "pm"})
	if err != nil {
		t.Fatalf("complete pre-delivery round: %v", err)
	}
	entry, err := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != "ready_for_delivery" {
		t.Fatalf("passed pre-delivery round should leave ready_for_delivery, got %s", entry.Status)
	}
	// ready_for_delivery is terminal
	if _, err := env.Engine.UpdateWorkStatus(env.Ctx, engine.StatusUpdateOptions{ProjectID: "p1", Status: "in_progress", ActorID: "boss"}); err == nil {
		t.Fatalf("expected terminal status to reject further updates")
	}
}

func TestMoveRequiresCompletedWork(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	_, err := env.Engine.MoveToDepartment(env.Ctx, engine.MoveOptions{ProjectID: "p1", To: "design", ActorID: "boss"})
	if err == nil {
		t.Fatalf("move with not_started work should fail")
	}
	// The edge exists; only its requirement is unmet.
	var pre *workflow.PreconditionFailedError
	if !errors.As(err, &pre) {
		t.Fatalf("legal edge with unmet requirement should be a precondition failure, got %T: %v", err, err)
	}
	var ite *workflow.InvalidTransitionError
	if errors.As(err, &ite) {
		t.Fatalf("unmet requirement must not report as an invalid transition: %v", err)
	}
	if !strings.Contains(err.Error(), "completed") {
		t.Fatalf("error should name the required status: %v", err)
	}
}

func TestMoveOffTableEdgeIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	_, err := env.Engine.MoveToDepartment(env.Ctx, engine.MoveOptions{ProjectID: "p1", To: "qa", ActorID: "boss"})
	var ite *workflow.InvalidTransitionError
	if err == nil || !errors.As(err, &ite) {
		t.Fatalf("edge absent from the rule table should be an invalid transition, got %v", err)
	}
	if ite.From != "intake" || ite.To != "qa" {
		t.Fatalf("invalid transition should name the pair, got %s -> %s", ite.From, ite.To)
	}
}

func TestMoveRunsEdgeAndGateChecksTogether(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "design", "boss")
	env.setStatus(t, "p1", "in_progress", "dee")

	res, err := env.Engine.ValidateTransition(env.Ctx, "p1", "markup", "boss")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatalf("gated edge with unfinished work should not validate")
	}
	joined := strings.Join(res.Errors, "; ")
	if !strings.Contains(joined, "work status must be completed") {
		t.Fatalf("edge status requirement should be reported alongside the gate: %v", res.Errors)
	}
	if !strings.Contains(joined, "client_approval") {
		t.Fatalf("gate approval requirement should be reported: %v", res.Errors)
	}
	if strings.Count(joined, "work status must be completed") != 1 {
		t.Fatalf("identical edge and gate status requirements should report once: %v", res.Errors)
	}
}

func TestMoveRecordsAuthorizer(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	if _, err := env.Engine.MoveToDepartment(env.Ctx, engine.MoveOptions{ProjectID: "p1", To: "design", ActorID: "boss", AuthorizedBy: "pam"}); err != nil {
		t.Fatal(err)
	}
	entry, err := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.AuthorizedBy == nil || *entry.AuthorizedBy != "pam" {
		t.Fatalf("move should record the authorizer, got %v", entry.AuthorizedBy)
	}
	if entry.MovedBy != "boss" {
		t.Fatalf("mover should stay the acting actor, got %s", entry.MovedBy)
	}
}

func TestDesignGateBlocksUntilClientApproval(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "design", "boss")
	env.setStatus(t, "p1", "in_progress", "dee")
	env.setStatus(t, "p1", "completed", "dee")

	res, err := env.Engine.ValidateTransition(env.Ctx, "p1", "markup", "boss")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatalf("design gate should block without client approval")
	}
	if !strings.Contains(strings.Join(res.Errors, "; "), "client_approval") {
		t.Fatalf("errors should name the missing approval: %v", res.Errors)
	}

	a, err := env.Engine.RequestApproval(env.Ctx, engine.ApprovalRequestOptions{ProjectID: "p1", Type: "client_approval", ActorID: "dee"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitApproval(env.Ctx, engine.ApprovalDecisionOptions{ApprovalID: a.ID, Decision: "approved", ActorID: "carl"}); err != nil {
		t.Fatal(err)
	}
	entry, err := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != "completed" {
		t.Fatalf("approved sign-off should complete the entry, got %s", entry.Status)
	}
	res, err = env.Engine.ValidateTransition(env.Ctx, "p1", "markup", "boss")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatalf("transition should validate after approval: %v", res.Errors)
	}
}

func TestClientRejectionDropsEntryStatus(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "design", "boss")
	env.setStatus(t, "p1", "in_progress", "dee")
	env.setStatus(t, "p1", "completed", "dee")
	a, err := env.Engine.RequestApproval(env.Ctx, engine.ApprovalRequestOptions{ProjectID: "p1", Type: "client_approval", ActorID: "dee"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitApproval(env.Ctx, engine.ApprovalDecisionOptions{ApprovalID: a.ID, Decision: "rejected", ActorID: "carl"}); err == nil {
		t.Fatalf("rejection without a reason should fail")
	}
	if _, err := env.Engine.SubmitApproval(env.Ctx, engine.ApprovalDecisionOptions{ApprovalID: a.ID, Decision: "rejected", ActorID: "carl", RejectionReason: "wrong palette"}); err != nil {
		t.Fatal(err)
	}
	entry, _ := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if entry.Status != "client_rejected" {
		t.Fatalf("rejected sign-off should set client_rejected, got %s", entry.Status)
	}
	// an approval is decided exactly once
	if _, err := env.Engine.SubmitApproval(env.Ctx, engine.ApprovalDecisionOptions{ApprovalID: a.ID, Decision: "approved", ActorID: "carl"}); err == nil {
		t.Fatalf("re-deciding an approval should fail")
	}
}

// buildProjectInQA drives a php project to its build department with an
// open qa round.
func buildProjectInQA(t *testing.T, env testEnv) domain.QARound {
	t.Helper()
	env.createProject(t, "p1", "php")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "design", "boss")
	env.setStatus(t, "p1", "in_progress", "dee")
	env.setStatus(t, "p1", "completed", "dee")
	a, err := env.Engine.RequestApproval(env.Ctx, engine.ApprovalRequestOptions{ProjectID: "p1", Type: "client_approval", ActorID: "dee"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitApproval(env.Ctx, engine.ApprovalDecisionOptions{ApprovalID: a.ID, Decision: "approved", ActorID: "carl"}); err != nil {
		t.Fatal(err)
	}
	env.move(t, "p1", "markup", "boss")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "build_php", "boss")
	env.setStatus(t, "p1", "in_progress", "paul")
	round, err := env.Engine.StartQARound(env.Ctx, engine.QAStartOptions{ProjectID: "p1", QAType: "general", TesterID: "pm", ActorID: "boss"})
	if err != nil {
		t.Fatal(err)
	}
	return round
}

func TestFailedRoundWithCriticalBugsRejects(t *testing.T) {
	env := newTestEnv(t)
	round := buildProjectInQA(t, env)
	for _, title := range []string{"500 on checkout", "database corruption on save"} {
		if _, err := env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{RoundID: round.ID, Title: title, Severity: "critical", ActorID: "pm"}); err != nil {
			t.Fatalf("create bug: %v", err)
		}
	}
	round, err := env.Engine.CompleteQARound(env.Ctx, engine.QACompleteOptions{RoundID: round.ID, Outcome: "failed", ActorID: "pm", RejectionReason: "blocking defects"})
	if err != nil {
		t.Fatal(err)
	}
	if round.BugCount != 2 || round.CriticalBugs != 2 {
		t.Fatalf("counts should come from recorded bugs, got %d/%d", round.BugCount, round.CriticalBugs)
	}
	entry, _ := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if entry.Status != "qa_rejected" {
		t.Fatalf("critical failures should set qa_rejected, got %s", entry.Status)
	}
}

func TestFailedRoundWithoutCriticalBugsGoesToBugfix(t *testing.T) {
	env := newTestEnv(t)
	round := buildProjectInQA(t, env)
	if _, err := env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{RoundID: round.ID, Title: "misaligned footer css", Severity: "low", ActorID: "pm"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteQARound(env.Ctx, engine.QACompleteOptions{RoundID: round.ID, Outcome: "failed", ActorID: "pm", RejectionReason: "cosmetic defects"}); err != nil {
		t.Fatal(err)
	}
	entry, _ := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if entry.Status != "bugfix_in_progress" {
		t.Fatalf("non-critical failure should set bugfix_in_progress, got %s", entry.Status)
	}
}

func TestCompleteQARoundIsDecidedOnce(t *testing.T) {
	env := newTestEnv(t)
	round := buildProjectInQA(t, env)
	if _, err := env.Engine.CompleteQARound(env.Ctx, engine.QACompleteOptions{RoundID: round.ID, Outcome: "passed", ActorID: "pm"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteQARound(env.Ctx, engine.QACompleteOptions{RoundID: round.ID, Outcome: "passed", ActorID: "pm"}); err == nil {
		t.Fatalf("completing a terminal round twice should fail")
	}
	rounds, err := env.Engine.Repo.ListRoundsByHistory(env.Ctx, round.HistoryID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 1 {
		t.Fatalf("re-completion must not create rounds, got %d", len(rounds))
	}
}

func TestRoundNumbersIncrement(t *testing.T) {
	env := newTestEnv(t)
	round := buildProjectInQA(t, env)
	if _, err := env.Engine.CompleteQARound(env.Ctx, engine.QACompleteOptions{RoundID: round.ID, Outcome: "failed", ActorID: "pm", RejectionReason: "regressions"}); err != nil {
		t.Fatal(err)
	}
	// bugfix_in_progress -> qa_testing opens the next round
	second, err := env.Engine.StartQARound(env.Ctx, engine.QAStartOptions{ProjectID: "p1", QAType: "general", TesterID: "pm", ActorID: "boss"})
	if err != nil {
		t.Fatal(err)
	}
	if second.RoundNumber != 2 {
		t.Fatalf("second round should be numbered 2, got %d", second.RoundNumber)
	}
}

func TestStartQARestrictedToManagement(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "php")
	_, err := env.Engine.StartQARound(env.Ctx, engine.QAStartOptions{ProjectID: "p1", QAType: "general", ActorID: "dee"})
	var forbidden *workflow.ForbiddenError
	if err == nil || !errors.As(err, &forbidden) {
		t.Fatalf("designer starting qa should be forbidden, got %v", err)
	}
}

func TestDuplicateMoveRejected(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	_, err := env.Engine.MoveToDepartment(env.Ctx, engine.MoveOptions{ProjectID: "p1", To: "intake", ActorID: "boss"})
	if err == nil {
		t.Fatalf("moving a project into its current department should fail")
	}
}

func TestMovePermissionIsDepartmentScoped(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	_, err := env.Engine.MoveToDepartment(env.Ctx, engine.MoveOptions{ProjectID: "p1", To: "design", ActorID: "paul"})
	var forbidden *workflow.ForbiddenError
	if err == nil || !errors.As(err, &forbidden) {
		t.Fatalf("builder moving departments should be forbidden, got %v", err)
	}
}

func TestCorrectionsForceStatusAndCount(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	c, err := env.Engine.CreateCorrection(env.Ctx, engine.CorrectionCreateOptions{ProjectID: "p1", Description: "rework the hero block", ActorID: "boss"})
	if err != nil {
		t.Fatal(err)
	}
	entry, _ := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if entry.Status != "corrections_needed" || entry.CorrectionCount != 1 {
		t.Fatalf("correction should force corrections_needed and bump the counter: %s/%d", entry.Status, entry.CorrectionCount)
	}
	c, err = env.Engine.UpdateCorrection(env.Ctx, engine.CorrectionUpdateOptions{CorrectionID: c.ID, Status: "resolved", ResolutionNotes: "reworked", ActorID: "boss"})
	if err != nil {
		t.Fatal(err)
	}
	if c.ResolvedAt == nil {
		t.Fatalf("resolving should stamp resolved_at")
	}
	if _, err := env.Engine.UpdateCorrection(env.Ctx, engine.CorrectionUpdateOptions{CorrectionID: c.ID, Status: "open", ActorID: "boss"}); err == nil {
		t.Fatalf("resolved corrections should not reopen")
	}
}

func TestManagerReviewThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "design", "boss")
	env.setStatus(t, "p1", "in_progress", "dee")
	env.setStatus(t, "p1", "completed", "dee")

	if _, err := env.Engine.RequestManagerReview(env.Ctx, engine.ReviewRequestOptions{ProjectID: "p1", ActorID: "pm"}); err == nil {
		t.Fatalf("review below both thresholds should be rejected")
	}

	for i := 0; i < 2; i++ {
		a, err := env.Engine.RequestApproval(env.Ctx, engine.ApprovalRequestOptions{ProjectID: "p1", Type: "client_approval", ActorID: "dee"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.Engine.SubmitApproval(env.Ctx, engine.ApprovalDecisionOptions{ApprovalID: a.ID, Decision: "rejected", ActorID: "carl", RejectionReason: "not there yet"}); err != nil {
			t.Fatal(err)
		}
		env.setStatus(t, "p1", "in_progress", "dee")
		env.setStatus(t, "p1", "completed", "dee")
	}

	review, err := env.Engine.RequestManagerReview(env.Ctx, engine.ReviewRequestOptions{ProjectID: "p1", ActorID: "pm"})
	if err != nil {
		t.Fatalf("two rejections should reach the threshold: %v", err)
	}
	if _, err := env.Engine.SubmitManagerReview(env.Ctx, engine.ReviewDecisionOptions{ApprovalID: review.ID, Verdict: "revise", ActorID: "dee"}); err == nil {
		t.Fatalf("non-management review verdict should be forbidden")
	}
	if _, err := env.Engine.SubmitManagerReview(env.Ctx, engine.ReviewDecisionOptions{ApprovalID: review.ID, Verdict: "revise", ActorID: "pm"}); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != "active" {
		t.Fatalf("revise verdict should keep the project active, got %s", p.Status)
	}
	entry, _ := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if entry.Status != "corrections_needed" {
		t.Fatalf("revise verdict should demand corrections, got %s", entry.Status)
	}
}

func TestManagerReviewCancelStopsProject(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Rules = workflow.DefaultRules().WithReviewThresholds(workflow.ReviewThresholds{Rejections: 1})
	env.createProject(t, "p1", "web")
	env.setStatus(t, "p1", "in_progress", "boss")
	env.setStatus(t, "p1", "completed", "boss")
	env.move(t, "p1", "design", "boss")
	env.setStatus(t, "p1", "in_progress", "dee")
	env.setStatus(t, "p1", "completed", "dee")
	a, err := env.Engine.RequestApproval(env.Ctx, engine.ApprovalRequestOptions{ProjectID: "p1", Type: "client_approval", ActorID: "dee"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitApproval(env.Ctx, engine.ApprovalDecisionOptions{ApprovalID: a.ID, Decision: "rejected", ActorID: "carl", RejectionReason: "scope dispute"}); err != nil {
		t.Fatal(err)
	}
	review, err := env.Engine.RequestManagerReview(env.Ctx, engine.ReviewRequestOptions{ProjectID: "p1", ActorID: "pm"})
	if err != nil {
		t.Fatalf("one rejection should reach the lowered threshold: %v", err)
	}
	entryBefore, _ := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if _, err := env.Engine.SubmitManagerReview(env.Ctx, engine.ReviewDecisionOptions{ApprovalID: review.ID, Verdict: "cancel", ActorID: "boss"}); err != nil {
		t.Fatal(err)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "p1")
	if p.Status != "cancelled" {
		t.Fatalf("cancel verdict should cancel the project, got %s", p.Status)
	}
	entryAfter, _ := env.Engine.Repo.LatestHistory(env.Ctx, "p1")
	if entryAfter.Status != entryBefore.Status {
		t.Fatalf("cancel verdict must leave history status unchanged: %s -> %s", entryBefore.Status, entryAfter.Status)
	}
}

func TestReassignCoordinator(t *testing.T) {
	env := newTestEnv(t)
	p, _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		ID: "p1", Name: "relaunch", ActorID: "boss", CoordinatorID: "coco",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RegisterActor(env.Ctx, domain.Actor{ID: "carla", Role: "coordinator", Department: "coordination"}); err != nil {
		t.Fatal(err)
	}
	// team lead sub-role cannot take a coordinator slot
	if _, err := env.Engine.Reassign(env.Ctx, engine.ReassignOptions{ProjectID: p.ID, AssignmentType: "coordinator", NewUserID: "tina", ActorID: "coco"}); err == nil {
		t.Fatalf("wrong sub-role should be rejected")
	}
	row, err := env.Engine.Reassign(env.Ctx, engine.ReassignOptions{ProjectID: p.ID, AssignmentType: "coordinator", NewUserID: "carla", ActorID: "coco", Reason: "vacation cover"})
	if err != nil {
		t.Fatal(err)
	}
	if row.PreviousUserID == nil || *row.PreviousUserID != "coco" {
		t.Fatalf("previous holder should be captured: %+v", row)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.CoordinatorID == nil || *got.CoordinatorID != "carla" {
		t.Fatalf("project coordinator should be updated: %+v", got.CoordinatorID)
	}
	// an outsider cannot reassign
	if _, err := env.Engine.Reassign(env.Ctx, engine.ReassignOptions{ProjectID: p.ID, AssignmentType: "coordinator", NewUserID: "coco", ActorID: "paul"}); err == nil {
		t.Fatalf("non-coordination actor should be forbidden")
	}
}

func TestBugClassification(t *testing.T) {
	env := newTestEnv(t)
	round := buildProjectInQA(t, env)
	b, err := env.Engine.CreateBug(env.Ctx, engine.BugCreateOptions{
		RoundID: round.ID,
		Title:   "wordpress plugin activation fails",
		Steps:   "activate the plugin",
		ActorID: "pm",
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.AssignedDepartment != "build_wordpress" {
		t.Fatalf("keyword routing should pick build_wordpress, got %s", b.AssignedDepartment)
	}
	if !strings.Contains(b.Steps, "build_wordpress") {
		t.Fatalf("computed department should be appended to steps: %q", b.Steps)
	}
}

func TestUnknownActorRejected(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "p1", "web")
	if _, err := env.Engine.UpdateWorkStatus(env.Ctx, engine.StatusUpdateOptions{ProjectID: "p1", Status: "in_progress", ActorID: "ghost"}); err == nil {
		t.Fatalf("unknown actor should be rejected")
	}
}

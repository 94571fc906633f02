package flows

import (
	"context"
	"time"
)

// SessionIssued is the result of a successful verify-and-issue run.
type SessionIssued struct {
	Token         string
	ExpiresAt     time.Time
	SubjectID     string
	IsNewIdentity bool
	ChallengeID   string
	Purpose       string
	Contact       string
}

type IssueMetrics struct {
	SessionIssued  int
	SessionFailure int
}

type IssueEvents struct {
	Issued string
}

type IssueErrors struct {
	EngineNotReady error
	Unavailable    error
}

type IssueDeps struct {
	SessionTTL    func(string) time.Duration
	CreateSession func(string, string, string, time.Duration) (string, time.Time, error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, string, error, func() map[string]string)

	Metrics IssueMetrics
	Events  IssueEvents
	Errors  IssueErrors
}

// RunVerifyAndIssue verifies a code, resolves the identity behind the
// verified contact and signs a session scoped to the challenge's purpose.
// The challenge stays consumed even when a later step fails.
func RunVerifyAndIssue(ctx context.Context, req VerifyRequest, deps Deps) (*SessionIssued, error) {
	issue := deps.Issue
	normalizeIssueDeps(&issue)
	if issue.CreateSession == nil || issue.SessionTTL == nil {
		return nil, issue.Errors.EngineNotReady
	}

	verified, err := RunVerifyChallenge(ctx, req, deps.Verify)
	if err != nil {
		return nil, err
	}
	record := verified.Record
	contact := record.ContactKey()

	resolved, err := RunResolveIdentity(ctx, record.Target, contact, deps.Identity)
	if err != nil {
		issue.MetricInc(issue.Metrics.SessionFailure)
		issue.EmitAudit(ctx, issue.Events.Issued, false, "", record.ID, err, func() map[string]string {
			return map[string]string{
				"purpose": record.Purpose,
				"reason":  "identity_resolution_failed",
			}
		})
		return nil, err
	}

	subject := resolved.Identity.ID
	token, expiresAt, err := issue.CreateSession(subject, record.Purpose, contact, issue.SessionTTL(record.Purpose))
	if err != nil {
		issue.MetricInc(issue.Metrics.SessionFailure)
		issue.EmitAudit(ctx, issue.Events.Issued, false, subject, record.ID, issue.Errors.Unavailable, func() map[string]string {
			return map[string]string{
				"purpose": record.Purpose,
				"reason":  "token_signing_failed",
			}
		})
		return nil, issue.Errors.Unavailable
	}

	issue.MetricInc(issue.Metrics.SessionIssued)
	issue.EmitAudit(ctx, issue.Events.Issued, true, subject, record.ID, nil, func() map[string]string {
		return map[string]string{
			"purpose": record.Purpose,
			"new":     boolString(resolved.IsNew),
		}
	})

	return &SessionIssued{
		Token:         token,
		ExpiresAt:     expiresAt,
		SubjectID:     subject,
		IsNewIdentity: resolved.IsNew,
		ChallengeID:   record.ID,
		Purpose:       record.Purpose,
		Contact:       contact,
	}, nil
}

func normalizeIssueDeps(deps *IssueDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
}

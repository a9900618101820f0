package core

import (
	"context"

	"sliptacore/internal/closure"
	"sliptacore/internal/diagnostics"
	"sliptacore/internal/scoring"
)

// Score recomputes the audit score from its stored responses. A nil score
// means the audit has no responses yet.
func (s *Service) Score(ctx context.Context, actor Actor, auditID string) (*scoring.Score, error) {
	var score *scoring.Score
	err := s.run(ctx, "score", actor, auditID, func(ctx context.Context) (string, error) {
		responses, err := s.responses(ctx, actor, auditID)
		if err != nil {
			return auditID, err
		}
		score, err = scoring.Audit(s.catalog, responses)
		return auditID, err
	})
	return score, err
}

// SectionScores scores every section of the audit in section order.
func (s *Service) SectionScores(ctx context.Context, actor Actor, auditID string) ([]scoring.SectionScore, error) {
	var out []scoring.SectionScore
	err := s.run(ctx, "section_scores", actor, auditID, func(ctx context.Context) (string, error) {
		responses, err := s.responses(ctx, actor, auditID)
		if err != nil {
			return auditID, err
		}
		out, err = scoring.Sections(s.catalog, responses)
		return auditID, err
	})
	return out, err
}

// Diagnose runs the completeness scan over the audit.
func (s *Service) Diagnose(ctx context.Context, actor Actor, auditID string) (diagnostics.Report, error) {
	var report diagnostics.Report
	err := s.run(ctx, "diagnose", actor, auditID, func(ctx context.Context) (string, error) {
		var err error
		report, err = s.diagnose(ctx, actor, auditID)
		return auditID, err
	})
	return report, err
}

// ClosureCheck evaluates the closure gate for the audit.
func (s *Service) ClosureCheck(ctx context.Context, actor Actor, auditID string) (closure.Decision, error) {
	var decision closure.Decision
	err := s.run(ctx, "closure_check", actor, auditID, func(ctx context.Context) (string, error) {
		report, err := s.diagnose(ctx, actor, auditID)
		if err != nil {
			return auditID, err
		}
		decision = closure.Evaluate(report)
		return auditID, nil
	})
	return decision, err
}

// CompareWithPrevious compares the audit's score with the audit it follows
// up on. The trend is not comparable when there is no previous audit or
// either side has no responses.
func (s *Service) CompareWithPrevious(ctx context.Context, actor Actor, auditID string) (scoring.Trend, error) {
	var trend scoring.Trend
	err := s.run(ctx, "compare_with_previous", actor, auditID, func(ctx context.Context) (string, error) {
		audit, err := s.authorize(ctx, actor, auditID, false)
		if err != nil {
			return auditID, err
		}
		current, err := s.scoreOf(ctx, auditID)
		if err != nil {
			return auditID, err
		}
		if audit.PreviousAuditID == nil {
			trend = scoring.Compare(current, nil)
			return auditID, nil
		}
		if _, err := s.authorize(ctx, actor, *audit.PreviousAuditID, false); err != nil {
			return auditID, err
		}
		previous, err := s.scoreOf(ctx, *audit.PreviousAuditID)
		if err != nil {
			return auditID, err
		}
		trend = scoring.Compare(current, previous)
		return auditID, nil
	})
	return trend, err
}

func (s *Service) responses(ctx context.Context, actor Actor, auditID string) ([]Response, error) {
	if _, err := s.authorize(ctx, actor, auditID, false); err != nil {
		return nil, err
	}
	var list []Response
	err := s.store.View(ctx, func(view TransactionView) error {
		list = view.ListResponses(auditID)
		return nil
	})
	return list, err
}

func (s *Service) scoreOf(ctx context.Context, auditID string) (*scoring.Score, error) {
	var list []Response
	if err := s.store.View(ctx, func(view TransactionView) error {
		list = view.ListResponses(auditID)
		return nil
	}); err != nil {
		return nil, err
	}
	return scoring.Audit(s.catalog, list)
}

// diagnose snapshots the audit and runs diagnostics outside the store lock
// so that slow evidence lookups do not hold up writers.
func (s *Service) diagnose(ctx context.Context, actor Actor, auditID string) (diagnostics.Report, error) {
	if _, err := s.authorize(ctx, actor, auditID, false); err != nil {
		return diagnostics.Report{}, err
	}
	var in diagnostics.Input
	if err := s.store.View(ctx, func(view TransactionView) error {
		in = diagnosticsInput(view, auditID)
		return nil
	}); err != nil {
		return diagnostics.Report{}, err
	}
	return diagnostics.Run(ctx, s.catalog, in, s.evidence)
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sliptacore/internal/catalog"
	"sliptacore/internal/core"
	"sliptacore/pkg/domain"
)

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, domain.ValidationError{Field: "date", Message: fmt.Sprintf("expected YYYY-MM-DD, got %q", raw)}
	}
	return t, nil
}

// parseAnswer normalises case; the service rejects unknown answers.
func parseAnswer(raw string) domain.Answer {
	a, _ := domain.ParseAnswer(raw)
	return a
}

func (a *application) auditCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Create, inspect and move audits through their lifecycle"}

	var (
		lab, previous, openedOn string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a new draft audit for a laboratory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := core.CreateAuditInput{LaboratoryID: lab, PreviousAuditID: previous}
			if openedOn != "" {
				t, err := parseDate(openedOn)
				if err != nil {
					return err
				}
				in.OpenedOn = t
			}
			audit, err := a.service.CreateAudit(cmd.Context(), a.actor(), in)
			if err != nil {
				return err
			}
			return a.print(audit)
		},
	}
	create.Flags().StringVar(&lab, "laboratory", "", "Laboratory identifier.")
	create.Flags().StringVar(&previous, "previous", "", "Previous audit of the same laboratory, for trend comparison.")
	create.Flags().StringVar(&openedOn, "opened-on", "", "Opening date (YYYY-MM-DD); defaults to today.")

	get := &cobra.Command{
		Use:   "get AUDIT",
		Short: "Show an audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audit, err := a.service.GetAudit(cmd.Context(), a.actor(), args[0])
			if err != nil {
				return err
			}
			return a.print(audit)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List audits visible to the actor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			audits, err := a.service.ListAudits(cmd.Context(), a.actor())
			if err != nil {
				return err
			}
			return a.print(audits)
		},
	}

	var to, closedOn string
	transition := &cobra.Command{
		Use:   "transition AUDIT",
		Short: "Move an audit to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := core.TransitionAuditInput{AuditID: args[0], To: domain.AuditStatus(strings.ToLower(to))}
			if closedOn != "" {
				t, err := parseDate(closedOn)
				if err != nil {
					return err
				}
				in.ClosedOn = &t
			}
			out, err := a.service.TransitionAudit(cmd.Context(), a.actor(), in)
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}
	transition.Flags().StringVar(&to, "to", "", "Target status: in_progress, completed or cancelled.")
	transition.Flags().StringVar(&closedOn, "closed-on", "", "Closing date when completing (YYYY-MM-DD).")
	_ = transition.MarkFlagRequired("to")

	var justification string
	reopen := &cobra.Command{
		Use:   "reopen AUDIT",
		Short: "Reopen a completed audit (privileged)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audit, err := a.service.ReopenAudit(cmd.Context(), a.actor(), args[0], justification)
			if err != nil {
				return err
			}
			return a.print(audit)
		},
	}
	reopen.Flags().StringVar(&justification, "justification", "", "Why the audit is reopened.")

	cmd.AddCommand(create, get, list, transition, reopen)
	return cmd
}

func (a *application) respondCommand() *cobra.Command {
	var comment, naJustification string
	cmd := &cobra.Command{
		Use:   "respond AUDIT QUESTION ANSWER",
		Short: "Record a Y, P, N or NA answer for a checklist question",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.service.StoreResponse(cmd.Context(), a.actor(), core.StoreResponseInput{
				AuditID:         args[0],
				QuestionID:      args[1],
				Answer:          parseAnswer(args[2]),
				Comment:         comment,
				NAJustification: naJustification,
			})
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "Auditor comment; required for P and N.")
	cmd.Flags().StringVar(&naJustification, "na-justification", "", "Reason the question does not apply; required for NA.")
	return cmd
}

func (a *application) subRespondCommand() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "sub-respond AUDIT SUBQUESTION ANSWER",
		Short: "Record an answer for a sub-question of a composite question",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.service.StoreSubQuestionResponse(cmd.Context(), a.actor(), core.StoreSubResponseInput{
				AuditID:       args[0],
				SubQuestionID: args[1],
				Answer:        parseAnswer(args[2]),
				Comment:       comment,
			})
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "Auditor comment.")
	return cmd
}

func (a *application) scoreCommand() *cobra.Command {
	var sections bool
	cmd := &cobra.Command{
		Use:   "score AUDIT",
		Short: "Compute the audit score and star level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sections {
				list, err := a.service.SectionScores(cmd.Context(), a.actor(), args[0])
				if err != nil {
					return err
				}
				return a.print(list)
			}
			score, err := a.service.Score(cmd.Context(), a.actor(), args[0])
			if err != nil {
				return err
			}
			return a.print(score)
		},
	}
	cmd.Flags().BoolVar(&sections, "sections", false, "Report per-section scores instead of the audit total.")
	return cmd
}

func (a *application) diagnoseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose AUDIT",
		Short: "List completeness and consistency gaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.service.Diagnose(cmd.Context(), a.actor(), args[0])
			if err != nil {
				return err
			}
			return a.print(report)
		},
	}
}

func (a *application) closureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "closure AUDIT",
		Short: "Report whether the audit may be completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, err := a.service.ClosureCheck(cmd.Context(), a.actor(), args[0])
			if err != nil {
				return err
			}
			return a.print(decision)
		},
	}
}

func (a *application) reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile AUDIT",
		Short: "Bring findings and action plans in line with the recorded answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.service.ReconcileFindings(cmd.Context(), a.actor(), args[0])
			if err != nil {
				return err
			}
			return a.print(report)
		},
	}
}

func (a *application) compareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compare AUDIT",
		Short: "Compare the audit score with the previous audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trend, err := a.service.CompareWithPrevious(cmd.Context(), a.actor(), args[0])
			if err != nil {
				return err
			}
			return a.print(trend)
		},
	}
}

func (a *application) findingCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "finding", Short: "Manage findings"}

	var question, title, description, severity string
	create := &cobra.Command{
		Use:   "create AUDIT",
		Short: "Raise a manual finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			finding, err := a.service.CreateFinding(cmd.Context(), a.actor(), core.CreateFindingInput{
				AuditID:     args[0],
				QuestionID:  question,
				Title:       title,
				Description: description,
				Severity:    domain.FindingSeverity(strings.ToLower(severity)),
			})
			if err != nil {
				return err
			}
			return a.print(finding)
		},
	}
	create.Flags().StringVar(&question, "question", "", "Question the finding relates to.")
	create.Flags().StringVar(&title, "title", "", "Short title.")
	create.Flags().StringVar(&description, "description", "", "Details.")
	create.Flags().StringVar(&severity, "severity", "", "low, medium or high (default medium).")

	list := &cobra.Command{
		Use:   "list AUDIT",
		Short: "List findings of an audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.service.ListFindings(cmd.Context(), a.actor(), args[0])
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}

	del := &cobra.Command{
		Use:   "delete FINDING",
		Short: "Delete a finding without active action plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.service.DeleteFinding(cmd.Context(), a.actor(), args[0])
		},
	}

	cmd.AddCommand(create, list, del)
	return cmd
}

func (a *application) planCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Manage corrective action plans"}

	var planType, recommendation, responsible, due string
	create := &cobra.Command{
		Use:   "create FINDING",
		Short: "Add an action plan to a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := core.CreateActionPlanInput{
				FindingID:      args[0],
				Type:           planType,
				Recommendation: recommendation,
				ResponsibleID:  responsible,
			}
			if due != "" {
				t, err := parseDate(due)
				if err != nil {
					return err
				}
				in.DueDate = t
			}
			plan, err := a.service.CreateActionPlan(cmd.Context(), a.actor(), in)
			if err != nil {
				return err
			}
			return a.print(plan)
		},
	}
	create.Flags().StringVar(&planType, "type", "", "Plan type, for example corrective or preventive.")
	create.Flags().StringVar(&recommendation, "recommendation", "", "Recommended action.")
	create.Flags().StringVar(&responsible, "responsible", "", "Responsible person.")
	create.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD); defaults to the configured offset.")

	list := &cobra.Command{
		Use:   "list AUDIT",
		Short: "List action plans of an audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.service.ListActionPlans(cmd.Context(), a.actor(), args[0])
			if err != nil {
				return err
			}
			return a.print(list)
		},
	}

	var to, notes, evaluation string
	transition := &cobra.Command{
		Use:   "transition PLAN",
		Short: "Move an action plan to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.service.TransitionActionPlan(cmd.Context(), a.actor(), core.TransitionPlanInput{
				PlanID:                  args[0],
				To:                      domain.ActionPlanStatus(strings.ToLower(to)),
				ResolutionNotes:         notes,
				EffectivenessEvaluation: evaluation,
			})
			if err != nil {
				return err
			}
			return a.print(plan)
		},
	}
	transition.Flags().StringVar(&to, "to", "", "Target status: open, in_progress, closed or deferred.")
	transition.Flags().StringVar(&notes, "notes", "", "Resolution notes; required when closing.")
	transition.Flags().StringVar(&evaluation, "evaluation", "", "Effectiveness evaluation; required when closing.")
	_ = transition.MarkFlagRequired("to")

	var justification string
	reopen := &cobra.Command{
		Use:   "reopen PLAN",
		Short: "Reopen a closed action plan (privileged)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.service.ReopenActionPlan(cmd.Context(), a.actor(), args[0], justification)
			if err != nil {
				return err
			}
			return a.print(plan)
		},
	}
	reopen.Flags().StringVar(&justification, "justification", "", "Why the plan is reopened.")

	cmd.AddCommand(create, list, transition, reopen)
	return cmd
}

func (a *application) evidenceCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "evidence", Short: "Attach and list question evidence"}

	var name, contentType string
	attach := &cobra.Command{
		Use:   "attach AUDIT QUESTION FILE",
		Short: "Upload a file as evidence for a question",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(args[2])
			}
			item, err := a.service.AttachEvidence(cmd.Context(), a.actor(), core.AttachEvidenceInput{
				AuditID:     args[0],
				QuestionID:  args[1],
				Name:        name,
				ContentType: contentType,
				Body:        f,
			})
			if err != nil {
				return err
			}
			return a.print(item)
		},
	}
	attach.Flags().StringVar(&name, "name", "", "Stored file name; defaults to the file's base name.")
	attach.Flags().StringVar(&contentType, "content-type", "", "MIME type.")

	var question string
	list := &cobra.Command{
		Use:   "list AUDIT",
		Short: "List evidence of an audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.service.ListEvidence(cmd.Context(), a.actor(), args[0], question)
			if err != nil {
				return err
			}
			return a.print(items)
		},
	}
	list.Flags().StringVar(&question, "question", "", "Only list evidence of this question.")

	cmd.AddCommand(attach, list)
	return cmd
}

type catalogSummary struct {
	Version     string `json:"version"`
	Sections    int    `json:"sections"`
	Questions   int    `json:"questions"`
	TotalPoints int    `json:"total_points"`
}

func (a *application) catalogCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Inspect the checklist catalog"}
	validate := &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a catalog file (or the configured catalog) against the fixed SLIPTA shape",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := a.service.Catalog()
			if len(args) == 1 {
				loaded, err := catalog.LoadFile(args[0])
				if err != nil {
					return err
				}
				if err := catalog.Validate(loaded); err != nil {
					return err
				}
				cat = loaded
			}
			summary := catalogSummary{Version: cat.Version(), Sections: len(cat.Sections()), Questions: len(cat.Questions())}
			for _, q := range cat.Questions() {
				summary.TotalPoints += int(q.Weight)
			}
			return a.print(summary)
		},
	}
	cmd.AddCommand(validate)
	return cmd
}

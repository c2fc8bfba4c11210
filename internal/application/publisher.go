package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/prcover/internal/domain"
)

// DefaultDeleteConcurrency bounds parallel stale-report deletions.
const DefaultDeleteConcurrency = 4

// DefaultReportTitle is used when no title is configured.
const DefaultReportTitle = "Coverage of changed lines"

// Publisher runs the platform-independent publishing sequence: stale
// reports are deleted before the new one is created, and the report
// exists before any annotation is uploaded. The first error aborts; a
// report whose annotations could not all be uploaded is deleted again.
type Publisher struct {
	Platform  Platform
	Formatter CommentFormatter
	Logger    zerolog.Logger
	Title     string
	// FailAtOrBelow decides the report verdict, see domain.VerdictFor.
	FailAtOrBelow float64
	// Concurrency limits parallel deletions. Zero means
	// DefaultDeleteConcurrency.
	Concurrency int
	// NewID generates external IDs. Nil means a random UUID.
	NewID func() string
}

// PostComment formats the analysis and posts it to the pull request. With
// update set and a platform that supports it, our previous comment is
// edited instead.
func (p *Publisher) PostComment(ctx context.Context, analysis Analysis, pr int, update bool) (Comment, error) {
	if p.Formatter == nil {
		return Comment{}, fmt.Errorf("comment formatter not configured")
	}
	body := p.Formatter.FormatComment(analysis)

	if updater, ok := p.Platform.(CommentUpdater); ok && update {
		existing, found, err := updater.FindComment(ctx, pr, p.Formatter.Marker())
		if err != nil {
			return Comment{}, fmt.Errorf("find existing comment: %w", err)
		}
		if found {
			c, err := updater.UpdateComment(ctx, pr, existing.ID, body)
			if err != nil {
				return Comment{}, fmt.Errorf("update comment: %w", err)
			}
			p.Logger.Info().Str("comment", c.ID).Msg("coverage comment updated")
			return c, nil
		}
	}

	c, err := p.Platform.PostComment(ctx, pr, body)
	if err != nil {
		return Comment{}, fmt.Errorf("post comment: %w", err)
	}
	p.Logger.Info().Str("comment", c.ID).Msg("coverage comment posted")
	return c, nil
}

// PublishReport replaces our report on the pull request's head commit and
// annotates every uncovered line. It returns the new report's ID.
func (p *Publisher) PublishReport(ctx context.Context, analysis Analysis, pr int) (string, error) {
	commit, err := p.Platform.GetHeadCommit(ctx, pr)
	if err != nil {
		return "", fmt.Errorf("resolve head commit: %w", err)
	}
	log := p.Logger.With().Str("platform", string(p.Platform.Name())).Str("commit", commit).Logger()

	if err := p.deleteStale(ctx, commit); err != nil {
		return "", err
	}

	percentage := analysis.Result.Percentage()
	req := ReportRequest{
		ExternalID: ReporterName + "-" + p.newID(),
		Title:      p.title(),
		Details:    reportDetails(analysis),
		Reporter:   ReporterName,
		Result:     domain.VerdictFor(percentage, p.FailAtOrBelow),
		Percentage: percentage,
		Outcome:    analysis.Outcome,
	}
	reportID, err := p.Platform.CreateReport(ctx, commit, req)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	log.Info().Str("report", reportID).Str("result", string(req.Result)).Msg("coverage report created")

	annotations := p.annotations(analysis.Result)
	batch := p.Platform.MaxAnnotations()
	if batch <= 0 {
		batch = len(annotations)
	}
	for start := 0; start < len(annotations); start += batch {
		end := min(start+batch, len(annotations))
		if err := p.Platform.AddAnnotations(ctx, commit, reportID, annotations[start:end]); err != nil {
			if derr := p.Platform.DeleteReport(ctx, commit, reportID); derr != nil {
				log.Warn().Err(derr).Str("report", reportID).Msg("incomplete report could not be removed")
			}
			return "", fmt.Errorf("add annotations: %w", err)
		}
	}
	log.Debug().Int("annotations", len(annotations)).Msg("annotations uploaded")
	return reportID, nil
}

func (p *Publisher) deleteStale(ctx context.Context, commit string) error {
	reports, err := p.Platform.ListReports(ctx, commit)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}

	limit := p.Concurrency
	if limit <= 0 {
		limit = DefaultDeleteConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, r := range reports {
		if r.Reporter != ReporterName {
			continue
		}
		id := r.ID
		g.Go(func() error {
			if err := p.Platform.DeleteReport(gctx, commit, id); err != nil {
				return fmt.Errorf("delete report %s: %w", id, err)
			}
			p.Logger.Debug().Str("report", id).Msg("stale report deleted")
			return nil
		})
	}
	return g.Wait()
}

func (p *Publisher) annotations(result domain.CoverageResult) []Annotation {
	var out []Annotation
	for _, f := range result.Files() {
		for _, line := range f.Uncovered {
			out = append(out, Annotation{
				ExternalID: ReporterName + "-" + p.newID(),
				Path:       f.Path,
				Line:       line,
				Summary:    fmt.Sprintf("Line %d is not covered by tests", line),
			})
		}
	}
	return out
}

func (p *Publisher) title() string {
	if p.Title == "" {
		return DefaultReportTitle
	}
	return p.Title
}

func (p *Publisher) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

func reportDetails(a Analysis) string {
	return fmt.Sprintf("%d of %d changed, instrumented lines are covered (%.1f%%). Gate %s at threshold %.1f%%.",
		a.Result.TotalCovered(), a.Result.TotalCountable(), domain.Round1(a.Result.Percentage()), a.Outcome, a.Threshold)
}

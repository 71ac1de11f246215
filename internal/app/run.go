package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/localsession"
	"github.com/specialistvlad/connectogrid/internal/participant"
)

var (
	// ErrGroupLevel is returned for the group analysis level.
	ErrGroupLevel = errors.New("group level analysis is not implemented")
	// ErrNoParticipants is returned when the dataset yields nothing to run.
	ErrNoParticipants = errors.New("no participants to process")
	// ErrParticipantsFailed is returned when at least one subject did not
	// succeed. The Summary is returned alongside it.
	ErrParticipantsFailed = errors.New("participants failed")
)

// Run executes the participant analysis and prints the summary table.
func (a *App) Run(ctx context.Context) (*participant.Summary, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.AnalysisLevel == LevelGroup {
		return nil, failure.Configuration("", ErrGroupLevel)
	}

	a.startHealthcheckServer(ctx)
	defer func() {
		if err := a.closeHealthcheckServer(ctx); err != nil {
			a.logger.Warn("Health check server did not close cleanly.", "error", err)
		}
	}()

	units, err := discoverUnits(ctx, a.config.BIDSDir, a.config.Participants, a.config.Sessions)
	if err != nil {
		return nil, failure.Configuration("", err)
	}
	if len(units) == 0 {
		return nil, failure.Configuration("", fmt.Errorf("%w in %s", ErrNoParticipants, a.config.BIDSDir))
	}

	byLabel := make(map[string]unit, len(units))
	labels := make([]string, 0, len(units))
	for _, u := range units {
		byLabel[u.Label] = u
		labels = append(labels, u.Label)
	}
	a.logger.Info("🚀 Starting participant analysis.", "participants", labels, "modalities", fmt.Sprintf("%+v", a.modalities()))
	if a.config.ParallelParticipants > a.config.Threads {
		a.logger.Warn("More participants in parallel than threads; each still gets one thread.",
			"threads", a.config.Threads, "parallel", a.config.ParallelParticipants)
	}

	sessions := &localsession.SessionFactory{
		Runner:  a.runner,
		Threads: a.config.ThreadsPerParticipant(),
		Ledger:  a.ledger,
	}
	sum := participant.New(a.planner(byLabel), sessions).Run(ctx, labels, a.config.ParallelParticipants)

	if err := a.printSummary(sum); err != nil {
		a.logger.Warn("Failed to render summary.", "error", err)
	}
	a.logger.Info("🏁 Participant analysis finished.", "ok", sum.OK(), "duration", sum.Duration)

	if !sum.OK() {
		return sum, fmt.Errorf("%w: %d of %d", ErrParticipantsFailed, len(sum.Results)-sum.Count(participant.StatusSucceeded), len(sum.Results))
	}
	return sum, nil
}

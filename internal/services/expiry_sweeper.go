package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultSweepInterval = time.Hour
	sweepTimeout         = 10 * time.Minute
)

// ExpirySweeper periodically recognizes gift card breakage and expires
// credit lots for every organization that has something past its expiry.
type ExpirySweeper struct {
	db       *sql.DB
	cards    *GiftCardService
	credits  *CreditService
	interval time.Duration
	log      *logrus.Entry
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewExpirySweeper(db *sql.DB, cards *GiftCardService, credits *CreditService, interval time.Duration, log *logrus.Entry) *ExpirySweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &ExpirySweeper{
		db:       db,
		cards:    cards,
		credits:  credits,
		interval: interval,
		log:      log.WithField("component", "expiry_sweeper"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick until Stop.
func (j *ExpirySweeper) Start() {
	j.wg.Add(1)
	go j.run()
	j.log.WithField("interval", j.interval).Info("expiry sweeper started")
}

// Stop waits for an in-flight sweep to finish.
func (j *ExpirySweeper) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.log.Info("expiry sweeper stopped")
}

func (j *ExpirySweeper) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.tick()
	for {
		select {
		case <-ticker.C:
			j.tick()
		case <-j.stopCh:
			return
		}
	}
}

func (j *ExpirySweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := j.SweepOnce(ctx, j.now()); err != nil {
		j.log.WithError(err).Error("expiry sweep failed")
	}
}

// SweepOnce processes every organization with expired balances as of now.
// An organization that fails is logged and skipped.
func (j *ExpirySweeper) SweepOnce(ctx context.Context, now time.Time) (map[string]SweepSummary, error) {
	orgs, err := j.orgsWithExpiries(ctx, now)
	if err != nil {
		return nil, err
	}

	out := make(map[string]SweepSummary, len(orgs))
	for _, orgID := range orgs {
		log := j.log.WithField("org_id", orgID)
		var summary SweepSummary

		breakage, err := j.cards.SweepBreakage(ctx, orgID, now)
		if err != nil {
			log.WithError(err).Error("gift card breakage sweep failed")
		} else {
			summary.CardsProcessed = breakage.CardsProcessed
			summary.BreakageByCurrency = breakage.AmountByCurrency
		}

		lots, credits, err := j.credits.ExpireLots(ctx, orgID, now)
		if err != nil {
			log.WithError(err).Error("credit lot expiry failed")
		} else {
			summary.LotsExpired = lots
			summary.CreditsExpired = credits
		}

		out[orgID] = summary
		log.WithFields(logrus.Fields{
			"cards":   summary.CardsProcessed,
			"lots":    summary.LotsExpired,
			"credits": summary.CreditsExpired,
		}).Info("expiry sweep finished")
	}
	return out, nil
}

// SweepSummary is what one sweep did for one organization.
type SweepSummary struct {
	CardsProcessed     int              `json:"cardsProcessed"`
	BreakageByCurrency map[string]int64 `json:"breakageByCurrency"`
	LotsExpired        int              `json:"lotsExpired"`
	CreditsExpired     int64            `json:"creditsExpired"`
}

func (j *ExpirySweeper) orgsWithExpiries(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT org_id FROM gift_cards
		WHERE expires_at IS NOT NULL AND expires_at <= $1 AND breakage_recognized_at IS NULL
		UNION
		SELECT org_id FROM credit_lots
		WHERE active AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY org_id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query organizations with expiries: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return nil, err
		}
		orgs = append(orgs, orgID)
	}
	return orgs, rows.Err()
}

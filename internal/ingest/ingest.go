// Package ingest runs the per-user evidence pipelines: email scanning, bank
// transaction analysis, and statement processing. Each pipeline discovers
// candidate events and feeds them to the reconciliation engine one at a time,
// isolating per-item failures so one bad email never aborts the batch.
package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/subwatch/subwatch/internal/ai"
	recerr "github.com/subwatch/subwatch/internal/errors"
	"github.com/subwatch/subwatch/internal/models"
	"github.com/subwatch/subwatch/internal/recon"
	"github.com/subwatch/subwatch/internal/sources"
)

// maxBankPages bounds a single cursor walk through the bank source.
const maxBankPages = 50

// Ingestor wires the external collaborators to the engine for one
// reconciliation pass.
type Ingestor struct {
	engine     *recon.Engine
	emailSrc   sources.EmailSource
	bankSrc    sources.BankSource
	extractor  sources.StatementExtractor
	classifier ai.Classifier
	notifier   sources.Notifier
	refresher  sources.CredentialRefresher
}

// New assembles an ingestor. Notifier and refresher may be nil.
func New(engine *recon.Engine, emailSrc sources.EmailSource, bankSrc sources.BankSource, extractor sources.StatementExtractor, classifier ai.Classifier, notifier sources.Notifier, refresher sources.CredentialRefresher) *Ingestor {
	return &Ingestor{
		engine:     engine,
		emailSrc:   emailSrc,
		bankSrc:    bankSrc,
		extractor:  extractor,
		classifier: classifier,
		notifier:   notifier,
		refresher:  refresher,
	}
}

// ScanEmails fetches candidate emails, classifies and extracts each, and
// applies the resulting evidence oldest first. The provider returns newest
// first; application order is reversed because the staleness guard assumes
// oldest-first serial application.
func (in *Ingestor) ScanEmails(ctx context.Context, userID string, creds sources.Credentials, query sources.EmailQuery) (recon.Summary, error) {
	var summary recon.Summary
	if in.emailSrc == nil {
		return summary, nil
	}

	msgs, err := sources.WithAuthRetry(ctx, userID, creds, in.refresher, func(c sources.Credentials) ([]models.EmailMessage, error) {
		return in.emailSrc.Fetch(ctx, c, query)
	})
	if err != nil {
		return summary, err
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome, err := in.processEmail(ctx, userID, msg)
		summary.Record(outcome, err)
		if err != nil {
			log.Warn().Err(err).
				Str("userID", userID).
				Str("emailID", msg.ID).
				Msg("Email evidence failed, continuing batch")
		}
	}
	return summary, nil
}

func (in *Ingestor) processEmail(ctx context.Context, userID string, msg models.EmailMessage) (recon.Outcome, error) {
	// Evidence is stored regardless of classification so the cross-source
	// matcher can corroborate transactions against it later.
	if err := in.engine.RecordEmail(ctx, userID, msg); err != nil {
		return recon.OutcomeSkipped, err
	}

	text := msg.Subject + "\n" + msg.Text
	isSubscription, err := in.classifier.Classify(ctx, text)
	if err != nil {
		return recon.OutcomeSkipped, err
	}
	if !isSubscription {
		return recon.OutcomeSkipped, nil
	}

	ev, err := in.classifier.Extract(ctx, text)
	if err != nil {
		return recon.OutcomeSkipped, err
	}
	if ev == nil {
		return recon.OutcomeSkipped, nil
	}
	ev.SourceID = msg.ID
	ev.SourceDate = msg.Date
	ev.Origin = models.SourceEmail

	_, outcome, err := in.engine.ApplyEvidence(ctx, userID, *ev)
	return outcome, err
}

// ScanTransactions walks the bank source since the given time and analyzes
// each transaction. Potential candidates trigger a notification asking the
// user to confirm.
func (in *Ingestor) ScanTransactions(ctx context.Context, userID string, creds sources.Credentials, since time.Time) (recon.Summary, error) {
	var summary recon.Summary
	if in.bankSrc == nil {
		return summary, nil
	}

	var txs []models.BankTransaction
	cursor := ""
	for page := 0; page < maxBankPages; page++ {
		result, err := sources.WithAuthRetry(ctx, userID, creds, in.refresher, func(c sources.Credentials) (sources.BankPage, error) {
			return in.bankSrc.Fetch(ctx, c, since, cursor)
		})
		if err != nil {
			return summary, err
		}
		txs = append(txs, result.Transactions...)
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	sort.Slice(txs, func(i, j int) bool { return txs[i].Date.Before(txs[j].Date) })

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		pot, outcome, err := in.engine.AnalyzeTransaction(ctx, userID, tx)
		if err != nil {
			summary.Record(recon.OutcomeSkipped, err)
			log.Warn().Err(err).
				Str("userID", userID).
				Str("transactionID", tx.TransactionID).
				Msg("Transaction analysis failed, continuing batch")
			continue
		}

		summary.Record(outcome, nil)
		if pot.Confidence == models.ConfidencePotential {
			in.notifyPotential(ctx, userID, pot)
		}
	}
	return summary, nil
}

func (in *Ingestor) notifyPotential(ctx context.Context, userID string, pot *models.PotentialSubscription) {
	if in.notifier == nil || pot.UserAction.Action != models.ActionPending {
		return
	}
	msg := "Possible subscription detected: " + pot.MerchantName +
		" (" + pot.Amount.StringFixed(2) + " " + pot.Currency + "). Confirm or reject it in Subwatch."
	if err := in.notifier.Send(ctx, userID, msg); err != nil {
		// Fire and forget: delivery problems never affect reconciliation.
		log.Warn().Err(err).Str("userID", userID).Msg("Potential-subscription notification failed")
	}
}

// ProcessStatement extracts text from an uploaded statement document and
// applies any subscription evidence found in it, line block by line block.
func (in *Ingestor) ProcessStatement(ctx context.Context, userID, documentID string, document []byte) (recon.Summary, error) {
	var summary recon.Summary

	text, err := in.extractor.Extract(ctx, document)
	if err != nil {
		return summary, recerr.WrapExternal("extract_statement", "statement", err)
	}

	isSubscription, err := in.classifier.Classify(ctx, text)
	if err != nil {
		return summary, err
	}
	if !isSubscription {
		return summary, nil
	}

	ev, err := in.classifier.Extract(ctx, text)
	if err != nil || ev == nil {
		summary.Record(recon.OutcomeSkipped, err)
		return summary, err
	}
	ev.SourceID = "statement:" + documentID
	if ev.SourceDate.IsZero() {
		if ev.StartDate != nil {
			ev.SourceDate = *ev.StartDate
		} else {
			ev.SourceDate = time.Now()
		}
	}
	ev.Origin = models.SourceDocument

	_, outcome, err := in.engine.ApplyEvidence(ctx, userID, *ev)
	summary.Record(outcome, err)
	return summary, err
}

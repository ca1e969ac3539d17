package pipeline

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/resilience"
	"github.com/sells-group/email-intel/pkg/verifier"
)

// validationOutcome summarizes one validation round against real contacts.
type validationOutcome struct {
	Results     []model.ValidationResult
	ValidEmails []string
	Probed      int
	Valid       int
	OracleCalls int
	CatchAll    bool
}

// SuccessRate is the share of issued probes that came back valid.
func (v *validationOutcome) SuccessRate() float64 {
	if v.Probed == 0 {
		return 0
	}
	return float64(v.Valid) / float64(v.Probed)
}

// usableContacts filters to contacts that qualify as validation probes.
func usableContacts(contacts []model.Contact) []model.Contact {
	var out []model.Contact
	for _, c := range contacts {
		if c.Usable() {
			out = append(out, c)
		}
	}
	return out
}

// selectProbes picks up to n contacts evenly spaced across the list, so
// probes sample different parts of the provided data rather than the first
// few rows.
func selectProbes(contacts []model.Contact, n int) []model.Contact {
	if n <= 0 || len(contacts) <= n {
		return contacts
	}
	out := make([]model.Contact, 0, n)
	for i := 0; i < n; i++ {
		idx := i * (len(contacts) - 1) / (n - 1)
		out = append(out, contacts[idx])
	}
	return out
}

// validatePattern probes the pattern against up to probe_count contacts.
// Probes go out in waves no larger than the remaining success deficit: the
// first wave issues required probes in parallel, and each later wave only
// tops up by what the previous waves left unmet. Once enough probes
// validate, no further oracle calls are issued, even while others are in
// flight. Probe failures are independent: one contact erroring never aborts
// the others.
func (p *Pipeline) validatePattern(ctx context.Context, c model.CompanyContext, pattern model.Pattern, probes []model.Contact) *validationOutcome {
	required := p.cfg.Pipeline.RequiredValid
	results := make([]model.ValidationResult, len(probes))
	var calls atomic.Int64

	valid := 0
	for issued := 0; issued < len(probes) && valid < required; {
		wave := required - valid
		if remaining := len(probes) - issued; wave > remaining {
			wave = remaining
		}

		var g errgroup.Group
		for j := 0; j < wave; j++ {
			i := issued + j
			g.Go(func() error {
				results[i] = p.verifyProbe(ctx, c.Domain, pattern, probes[i], &calls)
				return nil
			})
		}
		_ = g.Wait() // probes never return errors

		for j := 0; j < wave; j++ {
			if results[issued+j].Status == model.VerifyValid {
				valid++
			}
		}
		issued += wave
	}

	out := &validationOutcome{OracleCalls: int(calls.Load())}
	for _, res := range results {
		if res.Email == "" {
			continue // probe skipped by early stop
		}
		out.Results = append(out.Results, res)
		out.Probed++
		switch res.Status {
		case model.VerifyValid:
			out.Valid++
			out.ValidEmails = append(out.ValidEmails, res.Email)
		case model.VerifyAcceptAll:
			out.CatchAll = true
		}
	}
	return out
}

// verifyProbe resolves one candidate address: cache first, then the budget
// gate, then the oracle with the bounded retry policy. Every outcome becomes
// a ValidationResult; transport errors map to the error status.
func (p *Pipeline) verifyProbe(ctx context.Context, domain string, pattern model.Pattern, contact model.Contact, calls *atomic.Int64) model.ValidationResult {
	email := pattern.Apply(contact.FirstName, contact.LastName) + "@" + domain
	contactName := contact.FirstName + " " + contact.LastName

	cached, err := p.store.GetCachedVerification(ctx, email)
	if err != nil {
		zap.L().Warn("pipeline: verification cache read failed", zap.String("email", email), zap.Error(err))
	}
	if cached != nil {
		p.metrics.OracleCacheHit()
		res := *cached
		res.Contact = contactName
		return res
	}

	if !p.budget.Allow(domain) {
		zap.L().Warn("pipeline: verification budget exhausted",
			zap.String("domain", domain),
			zap.String("email", email),
		)
		return model.ValidationResult{Email: email, Status: model.VerifyError, Contact: contactName}
	}

	retryCfg := p.retry
	retryCfg.OnRetry = resilience.RetryLogger("verifier", "verify")
	out, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*verifier.Result, error) {
		calls.Add(1)
		p.metrics.OracleCall()
		return p.verifier.Verify(ctx, email)
	})
	if err != nil {
		zap.L().Warn("pipeline: verification failed", zap.String("email", email), zap.Error(err))
		return model.ValidationResult{Email: email, Status: model.VerifyError, Contact: contactName}
	}

	res := model.ValidationResult{Email: email, Status: out.Status, Score: out.Score, Contact: contactName}
	switch res.Status {
	case model.VerifyValid, model.VerifyInvalid, model.VerifyAcceptAll, model.VerifyUnknown:
		if err := p.store.SetCachedVerification(ctx, email, res, p.cacheTTL); err != nil {
			zap.L().Warn("pipeline: verification cache write failed", zap.String("email", email), zap.Error(err))
		}
	}
	return res
}

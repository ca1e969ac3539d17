package predictor

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/pkg/arbiter"
)

const (
	coercedConfidence    = 0.65
	arbiterConfidenceMin = 0.60
	arbiterConfidenceMax = 0.95
)

// Arbitrate asks the reasoning model to break a tie between the top two
// posterior candidates. The answer is validated strictly: an out-of-set or
// malformed pattern, or a transport failure, is coerced to the leading
// candidate rather than propagated as an error.
func Arbitrate(ctx context.Context, chooser arbiter.Chooser, c model.CompanyContext, result *model.PredictResult) (model.Pattern, float64, string) {
	best, bestP, second, secondP := result.Posterior.Top2()

	choice, err := chooser.Choose(ctx, arbiter.ChoiceRequest{
		Context: c,
		Candidates: [2]arbiter.Candidate{
			{Pattern: best, Probability: bestP},
			{Pattern: second, Probability: secondP},
		},
	})
	if err != nil {
		zap.L().Warn("arbitration failed, keeping top candidate",
			zap.String("domain", c.Domain),
			zap.Error(err),
		)
		return best, coercedConfidence, ""
	}

	if choice.Pattern != best && choice.Pattern != second {
		zap.L().Warn("arbitration returned out-of-set pattern, coercing to top candidate",
			zap.String("domain", c.Domain),
			zap.String("returned", string(choice.Pattern)),
		)
		return best, coercedConfidence, choice.Reasoning
	}

	conf := choice.Confidence
	if conf < arbiterConfidenceMin {
		conf = arbiterConfidenceMin
	}
	if conf > arbiterConfidenceMax {
		conf = arbiterConfidenceMax
	}
	return choice.Pattern, conf, choice.Reasoning
}

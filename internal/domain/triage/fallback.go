package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// FallbackPolicy resolves an urgency when the primary classifier fails.
// "rules" runs the deterministic score; "high", "medium" or "low" pins a level.
type FallbackPolicy string

const FallbackRules FallbackPolicy = "rules"

// ParseFallbackPolicy validates a policy name.
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(FallbackRules) {
		return FallbackRules, nil
	}
	if _, err := ParseUrgencyLevel(s); err != nil {
		return "", fmt.Errorf("invalid classifier fallback %q (valid: rules, high, medium, low)", s)
	}
	return FallbackPolicy(s), nil
}

// FallbackClassifier wraps a primary classifier so that admission never
// fails on a classifier error.
type FallbackClassifier struct {
	primary Classifier
	policy  FallbackPolicy
	logger  zerolog.Logger
}

// NewFallbackClassifier wraps primary with policy.
func NewFallbackClassifier(primary Classifier, policy FallbackPolicy, logger zerolog.Logger) *FallbackClassifier {
	if policy == "" {
		policy = FallbackRules
	}
	return &FallbackClassifier{primary: primary, policy: policy, logger: logger}
}

// Classify implements Classifier. It always returns a level in the enum.
func (f *FallbackClassifier) Classify(ctx context.Context, a *Answers) (Result, error) {
	res, err := f.primary.Classify(ctx, a)
	if err == nil && res.Urgency.Valid() {
		return res, nil
	}
	if err == nil {
		err = fmt.Errorf("%w: level %q", ErrClassifierUnparseable, res.Urgency)
	}

	u := f.resolve(a)
	f.logger.Warn().Err(err).
		Str("policy", string(f.policy)).
		Str("urgency", string(u)).
		Msg("classifier failed, using fallback")
	return Result{Urgency: u, Source: SourceFallback}, nil
}

func (f *FallbackClassifier) resolve(a *Answers) Urgency {
	if f.policy == FallbackRules {
		return Classify(a)
	}
	u, err := ParseUrgencyLevel(string(f.policy))
	if err != nil {
		return Classify(a)
	}
	return u
}

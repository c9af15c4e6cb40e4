package triage

import (
	"context"
	"strings"
)

// Source records which path produced an urgency level.
type Source string

const (
	SourceRules    Source = "rules"
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Result is a classified urgency level together with its source.
type Result struct {
	Urgency Urgency `json:"urgency"`
	Source  Source  `json:"source"`
}

// Classifier assigns an urgency level to a validated intake record.
type Classifier interface {
	Classify(ctx context.Context, a *Answers) (Result, error)
}

var (
	emergencySymptoms = []string{"chest pain", "difficulty breathing", "severe bleeding", "unconscious", "stroke symptoms"}
	moderateSymptoms  = []string{"severe headache", "high fever", "persistent vomiting", "severe pain"}
)

const (
	highThreshold   = 6
	mediumThreshold = 3
)

// Score computes the additive triage score for a.
func Score(a *Answers) int {
	score := 0

	switch {
	case a.Age >= 65 || a.Age <= 5:
		score += 2
	case a.Age >= 50:
		score++
	}

	if a.Temperature != nil {
		switch t := *a.Temperature; {
		case t >= 103:
			score += 3
		case t >= 101:
			score += 2
		case t >= 99.5:
			score++
		}
	}

	score += a.PainLevel / 3

	// Emergency and moderate bonuses are exclusive.
	symptoms := a.symptomList()
	if containsAny(symptoms, emergencySymptoms) {
		score += 4
	} else if containsAny(symptoms, moderateSymptoms) {
		score += 2
	}

	d := strings.ToLower(a.Duration)
	if strings.Contains(d, "hours") || strings.Contains(d, "minutes") {
		score++
	}

	return score
}

// Classify maps the triage score of a onto an urgency level.
func Classify(a *Answers) Urgency {
	score := Score(a)
	switch {
	case score >= highThreshold:
		return UrgencyHigh
	case score >= mediumThreshold:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func containsAny(symptoms, needles []string) bool {
	for _, s := range symptoms {
		lower := strings.ToLower(s)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
	}
	return false
}

// RuleClassifier is the deterministic score-based classifier.
type RuleClassifier struct{}

// NewRuleClassifier creates a RuleClassifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify implements Classifier. It never fails.
func (RuleClassifier) Classify(_ context.Context, a *Answers) (Result, error) {
	return Result{Urgency: Classify(a), Source: SourceRules}, nil
}

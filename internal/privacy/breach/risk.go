// Package breach evaluates breach risk and decides who must be notified.
//
// Risk is a likelihood x impact matrix. Scores of 12 are critical, 6 and
// above high, 3 and above medium, anything lower low. A reporter-assigned
// critical severity escalates a high result to critical.
package breach

import "privacy/internal/privacy/models"

var likelihoodWeight = map[models.Likelihood]int{
	models.LikelihoodLow:    1,
	models.LikelihoodMedium: 2,
	models.LikelihoodHigh:   3,
}

var impactWeight = map[models.Impact]int{
	models.ImpactLow:      1,
	models.ImpactMedium:   2,
	models.ImpactHigh:     3,
	models.ImpactCritical: 4,
}

// Assess computes the risk assessment. Unknown inputs weigh as low.
func Assess(likelihood models.Likelihood, impact models.Impact, severity models.Severity) models.RiskAssessment {
	score := max(likelihoodWeight[likelihood], 1) * max(impactWeight[impact], 1)

	risk := levelFor(score)
	if severity == models.SeverityCritical && risk == models.RiskHigh {
		risk = models.RiskCritical
	}
	return models.RiskAssessment{
		Likelihood:  likelihood,
		Impact:      impact,
		Score:       score,
		OverallRisk: risk,
	}
}

func levelFor(score int) models.RiskLevel {
	switch {
	case score >= 12:
		return models.RiskCritical
	case score >= 6:
		return models.RiskHigh
	case score >= 3:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Decision lists the notifications a breach requires.
type Decision struct {
	SupervisoryAuthority bool
	DataSubjects         bool
}

// Decide maps an assessment to notification requirements: high or critical
// risk needs the supervisory authority, critical risk also the subjects.
func Decide(r models.RiskAssessment) Decision {
	return Decision{
		SupervisoryAuthority: r.RequiresSupervisoryNotification(),
		DataSubjects:         r.RequiresSubjectNotification(),
	}
}

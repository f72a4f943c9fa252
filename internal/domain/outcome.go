package domain

import "strings"

// OutcomeLabel is the classified result of a completed call
type OutcomeLabel string

const (
	OutcomeHighlyInterested     OutcomeLabel = "highly_interested"
	OutcomeAppointmentScheduled OutcomeLabel = "appointment_scheduled"
	OutcomeNeedsFollowUp        OutcomeLabel = "needs_follow_up"
	OutcomeNotInterested        OutcomeLabel = "not_interested"
	OutcomeDoNotCall            OutcomeLabel = "do_not_call"
	OutcomeNeutral              OutcomeLabel = "neutral"
	OutcomeUnqualified          OutcomeLabel = "unqualified"
	OutcomeCallBackLater        OutcomeLabel = "call_back_later"
)

// OutcomeLabels returns every label in a stable order
func OutcomeLabels() []OutcomeLabel {
	return []OutcomeLabel{
		OutcomeHighlyInterested,
		OutcomeAppointmentScheduled,
		OutcomeNeedsFollowUp,
		OutcomeNotInterested,
		OutcomeDoNotCall,
		OutcomeNeutral,
		OutcomeUnqualified,
		OutcomeCallBackLater,
	}
}

// ParseOutcome normalizes raw model output into a label.
// "Needs Follow-Up." becomes needs_follow_up. Unknown text is not ok.
func ParseOutcome(raw string) (OutcomeLabel, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'`.,;:!* \t\n")
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)

	for _, label := range OutcomeLabels() {
		if OutcomeLabel(s) == label {
			return label, true
		}
	}
	return "", false
}

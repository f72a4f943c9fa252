package prompts

import (
	"bytes"
	"text/template"

	"github.com/ClareAI/astra-dialer-service/internal/domain"
)

// outcomeSystemTemplate constrains the model to the closed label set
const outcomeSystemTemplate = `You classify the outcome of an outbound sales or service phone call.
You receive a short summary of what happened on the call.
Answer with exactly one label from this list and nothing else:
{{range .Labels}}- {{.}}
{{end}}
Guidance:
- highly_interested: the contact showed strong buying intent
- appointment_scheduled: a meeting, demo or visit was booked
- needs_follow_up: the contact wants more information sent or a later conversation
- not_interested: the contact declined
- do_not_call: the contact asked never to be called again
- unqualified: the contact is not a fit (wrong person, no budget, no need)
- call_back_later: the contact was busy and asked to be called at another time
- neutral: none of the above or the summary is unclear

Reply with the label only, in lowercase, without punctuation.`

var outcomeSystemPrompt = mustRenderOutcomePrompt()

func mustRenderOutcomePrompt() string {
	tmpl := template.Must(template.New("outcome").Parse(outcomeSystemTemplate))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Labels []domain.OutcomeLabel }{domain.OutcomeLabels()}); err != nil {
		panic(err)
	}
	return buf.String()
}

// OutcomeSystemPrompt returns the fixed instruction used to classify call summaries
func OutcomeSystemPrompt() string {
	return outcomeSystemPrompt
}

// OutcomeUserPrompt wraps a call summary for classification
func OutcomeUserPrompt(summary string) string {
	return "Call summary:\n" + summary
}

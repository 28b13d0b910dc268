package emailproc

import "regexp"

// IntentFlags are lightweight signals scanned from a cleaned body. They are
// independent; an all-false result is valid.
type IntentFlags struct {
	HasAction       bool `json:"hasAction"`
	HasDecision     bool `json:"hasDecision"`
	HasConfirmation bool `json:"hasConfirmation"`
}

var (
	actionRe       = regexp.MustCompile(`(?i)action required|please respond|waiting for your response`)
	decisionRe     = regexp.MustCompile(`(?i)we decided|final decision|approved`)
	confirmationRe = regexp.MustCompile(`(?i)confirmed|successfully|completed`)
)

// DetectIntentFlags classifies a cleaned body against the curated phrase sets.
func DetectIntentFlags(body string) IntentFlags {
	return IntentFlags{
		HasAction:       actionRe.MatchString(body),
		HasDecision:     decisionRe.MatchString(body),
		HasConfirmation: confirmationRe.MatchString(body),
	}
}

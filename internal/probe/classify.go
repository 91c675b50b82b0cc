package probe

import "strings"

// classificationRule maps error-text markers to an outcome. Rules are
// evaluated in declaration order and the first match wins, so a message
// containing both "timeout" and "token" lands in connection_error. Keep
// the order stable; it is part of the classifier contract.
type classificationRule struct {
	Outcome  Outcome
	Friendly string
	Markers  []string
}

var classificationRules = []classificationRule{
	{
		Outcome:  OutcomeNotConfigured,
		Friendly: "Server or credentials not configured",
		Markers:  []string{"not found", "not configured", "no such server"},
	},
	{
		Outcome:  OutcomeAuthError,
		Friendly: "Authentication failed - check credentials/OAuth flow",
		Markers:  []string{"unauthorized", "authentication", "forbidden", "401", "403"},
	},
	{
		Outcome:  OutcomeConnectionError,
		Friendly: "Connection failed - server may be unreachable",
		Markers:  []string{"timeout", "connection", "refused"},
	},
	{
		Outcome:  OutcomeOAuthRequired,
		Friendly: "OAuth authentication required - run oauth flow first",
		Markers:  []string{"oauth", "token"},
	},
}

// Classify buckets a failure message into an outcome plus a friendly
// message. It is total: unmatched text becomes OutcomeGenericError with
// the raw text as the friendly message.
func Classify(text string) (Outcome, string) {
	lowered := strings.ToLower(text)
	for _, rule := range classificationRules {
		for _, marker := range rule.Markers {
			if strings.Contains(lowered, marker) {
				return rule.Outcome, rule.Friendly
			}
		}
	}
	return OutcomeGenericError, text
}

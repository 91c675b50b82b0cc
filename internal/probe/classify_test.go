package probe

import "testing"

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		outcome Outcome
	}{
		{"not found beats auth markers", "server not found: unauthorized", OutcomeNotConfigured},
		{"no such server", "no such server 'figma'", OutcomeNotConfigured},
		{"credentials not configured", "credentials not configured for hubspot", OutcomeNotConfigured},
		{"unauthorized", "request was unauthorized", OutcomeAuthError},
		{"status 401", "status=401 type=authentication_error message=bad key", OutcomeAuthError},
		{"forbidden", "403 Forbidden", OutcomeAuthError},
		{"auth beats oauth markers", "401 unauthorized, oauth token rejected", OutcomeAuthError},
		{"timeout beats token", "connection timeout, token expired", OutcomeConnectionError},
		{"refused", "dial tcp 127.0.0.1:8811: connect: connection refused", OutcomeConnectionError},
		{"case insensitive", "Connection RESET by peer", OutcomeConnectionError},
		{"oauth", "oauth flow not completed", OutcomeOAuthRequired},
		{"token", "invalid token supplied", OutcomeOAuthRequired},
		{"unmatched", "weird 500 explosion", OutcomeGenericError},
		{"empty", "", OutcomeGenericError},
	}
	for _, tc := range cases {
		outcome, _ := Classify(tc.text)
		if outcome != tc.outcome {
			t.Fatalf("%s: Classify(%q) = %s, want %s", tc.name, tc.text, outcome, tc.outcome)
		}
	}
}

func TestClassifyFriendlyMessages(t *testing.T) {
	_, friendly := Classify("connection refused")
	if friendly != "Connection failed - server may be unreachable" {
		t.Fatalf("unexpected connection message: %q", friendly)
	}
	_, friendly = Classify("401 Unauthorized")
	if friendly != "Authentication failed - check credentials/OAuth flow" {
		t.Fatalf("unexpected auth message: %q", friendly)
	}
	_, friendly = Classify("oauth required")
	if friendly != "OAuth authentication required - run oauth flow first" {
		t.Fatalf("unexpected oauth message: %q", friendly)
	}
	_, friendly = Classify("server not found")
	if friendly != "Server or credentials not configured" {
		t.Fatalf("unexpected not-configured message: %q", friendly)
	}
}

func TestClassifyKeepsRawTextForGenericErrors(t *testing.T) {
	outcome, friendly := Classify("weird 500 explosion")
	if outcome != OutcomeGenericError {
		t.Fatalf("expected generic error, got %s", outcome)
	}
	if friendly != "weird 500 explosion" {
		t.Fatalf("expected raw text back, got %q", friendly)
	}
}

package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1, s2   string
		expected int
	}{
		{"", "", 0},
		{"interview", "interview", 0},
		{"interview", "intervew", 1},
		{"offer", "ofer", 1},
		{"acme", "", 4},
		{"kitten", "sitting", 3},
		{"Interview", "interview", 0}, // case-insensitive
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevenshteinDistance(tt.s1, tt.s2), "%q vs %q", tt.s1, tt.s2)
	}
}

func TestFuzzyMatchToleratesTypos(t *testing.T) {
	assert.True(t, FuzzyMatch("interview", "Interview invitation from Acme", 2))
	assert.True(t, FuzzyMatch("intervew", "Interview invitation from Acme", 2))
	assert.True(t, FuzzyMatch("inter", "Interview invitation", 1)) // prefix
	assert.False(t, FuzzyMatch("payroll", "Interview invitation from Acme", 2))
}

func TestMatchMessageSearchesAllFields(t *testing.T) {
	subject := "Next steps for your application"
	sender := "recruiting@acme.com"
	company := "Acme"
	snippet := "We would like to schedule an interview"

	assert.True(t, MatchMessage("application", subject, sender, company, snippet))
	assert.True(t, MatchMessage("acme", subject, sender, "", snippet))
	assert.True(t, MatchMessage("interview", subject, sender, company, snippet))
	assert.True(t, MatchMessage("aplication", subject, sender, company, snippet)) // typo
	assert.False(t, MatchMessage("invoice", subject, sender, company, ""))
}

func TestScoreMessageRanksSubjectAboveSender(t *testing.T) {
	subjectHit := ScoreMessage("interview", "Interview with Acme", "hr@globex.com", "")
	senderHit := ScoreMessage("interview", "Quick question", "interview@globex.com", "")

	assert.Greater(t, subjectHit, senderHit)
	assert.Greater(t, senderHit, 0.0)
}

func TestScoreMessageCompanyBeatsSender(t *testing.T) {
	companyHit := ScoreMessage("acme", "Your application", "noreply@jobs.example.com", "Acme")
	senderHit := ScoreMessage("acme", "Your application", "acme@jobs.example.com", "")

	assert.Greater(t, companyHit, senderHit)
}

func TestScoreMessageZeroForUnrelated(t *testing.T) {
	assert.Equal(t, 0.0, ScoreMessage("zookeeper", "Interview with Acme", "hr@globex.com", "Globex"))
}

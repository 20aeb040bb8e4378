package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Legal Intake Agent", "intake_agent"},
		{"legal_intake_agent", "intake_agent"},
		{"Analysis Agent", "analysis_agent"},
		{"WRAP UP AGENT", "wrap_up_agent"},
		{"  intake  ", "intake"},
		{"", ""},
		// Only the vendor prefix is stripped, not "legal" inside a name.
		{"paralegal_agent", "paralegal_agent"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeLabel(tt.in), "input %q", tt.in)
	}
}

func TestIsWrapupLabel(t *testing.T) {
	assert.True(t, isWrapupLabel("wrap_up_agent"))
	assert.True(t, isWrapupLabel("wrapup"))
	assert.True(t, isWrapupLabel("case_wrap_up"))
	assert.False(t, isWrapupLabel("intake_agent"))
	assert.False(t, isWrapupLabel("wrapping_paper"))
	assert.False(t, isWrapupLabel(""))
}

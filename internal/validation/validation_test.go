package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		wantErr   bool
	}{
		{"simple id", "work", false},
		{"with dashes and underscores", "work-line_2", false},
		{"digits only", "12345", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"spaces", "work line", true},
		{"path traversal", "../etc", true},
		{"colon", "session:work", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.sessionID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		wantErr     bool
	}{
		{"empty is allowed", "", false},
		{"normal name", "Work Line", false},
		{"unicode", "Línea de soporte", false},
		{"too long", strings.Repeat("a", 129), true},
		{"newline", "Work\nLine", true},
		{"null byte", "Work\x00Line", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.displayName)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRoomKey(t *testing.T) {
	tests := []struct {
		name    string
		roomKey string
		wantErr bool
	}{
		{"session room", "session:work", false},
		{"ticket room", "ticket:t42", false},
		{"bare session prefix", "session:", true},
		{"no prefix", "work", true},
		{"bad session id inside key", "session:has space", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomKey(tt.roomKey)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTicketID(t *testing.T) {
	assert.NoError(t, ValidateTicketID("t42"))
	assert.Error(t, ValidateTicketID(""))
	assert.Error(t, ValidateTicketID(strings.Repeat("t", 65)))
	assert.Error(t, ValidateTicketID("t\n42"))
}

package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		ctx         *Context
		wantVersion string
		wantDate    string
		wantRelease string
	}{
		{"nil context", nil, UnknownValue, UnknownValue, "ha-sound-analyzer@unknown"},
		{"empty values", NewContext("", ""), UnknownValue, UnknownValue, "ha-sound-analyzer@unknown"},
		{"release", NewContext("1.2.0", "2025-06-01"), "1.2.0", "2025-06-01", "ha-sound-analyzer@1.2.0"},
		{"pre-release tag", NewContext("1.3.0-beta.1", ""), "1.3.0-beta.1", UnknownValue, "ha-sound-analyzer@1.3.0-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantVersion, tt.ctx.Version())
			assert.Equal(t, tt.wantDate, tt.ctx.BuildDate())
			assert.Equal(t, tt.wantRelease, tt.ctx.Release())
		})
	}
}

package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

var _ lead.Hasher = New()

func TestHasherHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body string
		want string
	}{
		{"hello world", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}
	for _, tc := range tests {
		got, err := New().Hash([]byte(tc.body))
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

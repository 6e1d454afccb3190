package commands

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "HDFC Bank", n: 24, want: "HDFC Bank"},
		{in: "Housing Development Finance Corporation", n: 10, want: "Housing D…"},
		{in: "Société Générale", n: 7, want: "Sociét…"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, truncate(tt.in, tt.n))
		})
	}
}

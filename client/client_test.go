package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := [...]struct {
		name     string
		endpoint string
		want     string
	}{
		{`plain`, "http://127.0.0.1:8000", "http://127.0.0.1:8000"},
		{`trailing slash`, "http://127.0.0.1:8000/", "http://127.0.0.1:8000"},
		{`with prefix`, "https://pki.example.com/capki//", "https://pki.example.com/capki"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.endpoint)
			require.Equal(t, tt.want, c.Endpoint())
			require.NotNil(t, c.V1())
		})
	}
}

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointScheme(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		want      string
		expectErr bool
	}{
		{name: "redis", url: "redis://localhost:6379/0", want: "redis"},
		{name: "upper case", url: "POSTGRES://db/app", want: "postgres"},
		{name: "mongo srv", url: "mongodb+srv://cluster.example.com/app", want: "mongodb+srv"},
		{name: "mongo multi host", url: "mongodb://a:1,b:2/app", want: "mongodb"},
		{name: "empty", url: "", expectErr: true},
		{name: "no scheme", url: "localhost:6379", expectErr: true},
		{name: "leading separator", url: "://host", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EndpointScheme(tt.url)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedactEndpoint(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "password hidden",
			url:  "postgres://admin:secret@db:5432/app?sslmode=disable",
			want: "postgres://admin:xxxxx@db:5432/app?sslmode=disable",
		},
		{
			name: "user without password kept",
			url:  "mysql://reader@db:3306/app",
			want: "mysql://reader@db:3306/app",
		},
		{
			name: "no credentials",
			url:  "redis://localhost:6379/0",
			want: "redis://localhost:6379/0",
		},
		{
			name: "unparseable keeps scheme only",
			url:  "redis://u:p@host:port/0",
			want: "redis://xxxxx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactEndpoint(tt.url))
		})
	}
}

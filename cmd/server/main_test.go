package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/config"
)

func TestRunReturnsStartupErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{
			name: "missing case book",
			cfg:  config.Config{Addr: "127.0.0.1:0", CasesFile: filepath.Join(t.TempDir(), "missing.json")},
			want: "case book",
		},
		{
			name: "bad redis url",
			cfg:  config.Config{Addr: "127.0.0.1:0", RedisURL: "not-a-url://"},
			want: "parse redis url",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := run(tc.cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

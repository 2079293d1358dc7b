package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptions_ToDsn(t *testing.T) {
	tests := []struct {
		name    string
		options Options
		want    string
	}{
		{
			name:    "with password",
			options: Options{Addr: "mysql:3306", Username: "etl", Password: "secret", Database: "jobnet"},
			want:    "etl:secret@tcp(mysql:3306)/jobnet?",
		},
		{
			name:    "without password",
			options: Options{Addr: "127.0.0.1:3306", Username: "root", Database: "dwh"},
			want:    "root@tcp(127.0.0.1:3306)/dwh?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.options.ToDsn(), tt.want)
		})
	}
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, NewDefaultOptions().Enabled())
	assert.True(t, (&Options{Addr: "mysql:3306"}).Enabled())
}

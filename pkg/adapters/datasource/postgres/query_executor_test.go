package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeNameForOID(t *testing.T) {
	tests := []struct {
		oid  uint32
		want string
	}{
		{16, "BOOL"},
		{20, "INT8"},
		{25, "TEXT"},
		{2950, "UUID"},
		{3802, "JSONB"},
		{1016, "INT8[]"},
		{999999, "UNKNOWN"},
		{0, "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, typeNameForOID(tt.oid), "oid %d", tt.oid)
	}
}

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		preferred   Type
		available   map[Type]bool
		want        Type
		wantSkipped []Type
	}{
		{
			name:      "preferred available",
			preferred: TypeKeyValue,
			available: map[Type]bool{TypeKeyValue: true, TypeObject: true},
			want:      TypeKeyValue,
		},
		{
			name:        "object unavailable falls back to key-value",
			preferred:   TypeObject,
			available:   map[Type]bool{TypeKeyValue: true},
			want:        TypeKeyValue,
			wantSkipped: []Type{TypeObject},
		},
		{
			name:        "nothing persistent falls back to memory",
			preferred:   TypeObject,
			available:   map[Type]bool{},
			want:        TypeMemory,
			wantSkipped: []Type{TypeObject, TypeKeyValue},
		},
		{
			name:        "preferred key-value unavailable tries object next",
			preferred:   TypeKeyValue,
			available:   map[Type]bool{TypeObject: true},
			want:        TypeObject,
			wantSkipped: []Type{TypeKeyValue},
		},
		{
			name:      "memory is always accepted",
			preferred: TypeMemory,
			available: map[Type]bool{},
			want:      TypeMemory,
		},
		{
			name:        "unknown preferred type is skipped",
			preferred:   Type("redis"),
			available:   map[Type]bool{TypeObject: true},
			want:        TypeObject,
			wantSkipped: []Type{Type("redis")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, skipped := Resolve(tt.preferred, func(typ Type) bool { return tt.available[typ] })
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantSkipped, skipped)
		})
	}
}

func TestIsAvailable(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	assert.True(t, IsAvailable(TypeMemory, Config{}))
	assert.True(t, IsAvailable(TypeKeyValue, Config{}))
	assert.True(t, IsAvailable(TypeKeyValue, Config{Dir: dir}))
	assert.True(t, IsAvailable(TypeObject, Config{}))
	assert.True(t, IsAvailable(TypeObject, Config{Dir: dir}))

	assert.False(t, IsAvailable(TypeObject, Config{Dir: file}))
	assert.False(t, IsAvailable(TypeKeyValue, Config{Dir: file}))
	assert.False(t, IsAvailable(Type("redis"), Config{}))
}

func TestCreate(t *testing.T) {
	tests := []struct {
		typ  Type
		want Type
	}{
		{typ: TypeMemory, want: TypeMemory},
		{typ: TypeKeyValue, want: TypeKeyValue},
		{typ: TypeObject, want: TypeObject},
		{typ: Type("redis"), want: TypeMemory},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			a, err := Create(tt.typ, Config{}, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close() })
			assert.Equal(t, tt.want, a.Type())
		})
	}
}

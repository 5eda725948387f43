package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFilter_EmptyReturnsNil(t *testing.T) {
	f, err := NewFilter(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match("anything"))
}

func TestNewFilter_InvalidPattern(t *testing.T) {
	_, err := NewFilter([]string{"content/[a-"}, nil)
	assert.Error(t, err)

	_, err = NewFilter(nil, []string{"{unclosed"})
	assert.Error(t, err)
}

func TestFilter_Match(t *testing.T) {
	f, err := NewFilter([]string{"site/**", "config/*.xml"}, []string{"**/*.tmp", "site/drafts/**"})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"site/index.xml", true},
		{"site/a/b/c/page.xml", true},
		{"config/site.xml", true},
		{"config/nested/site.xml", false},
		{"site/cache.tmp", false},
		{"site/drafts/post.xml", false},
		{"README.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Match(tt.path))
		})
	}
}

func TestFilter_ExcludeOnly(t *testing.T) {
	f, err := NewFilter(nil, []string{".gitignore", "**/.keep"})
	require.NoError(t, err)

	assert.True(t, f.Match("index.html"))
	assert.False(t, f.Match(".gitignore"))
	assert.False(t, f.Match("static/img/.keep"))
}

func TestFilter_ApplyDropsFromEverySet(t *testing.T) {
	cs, err := New(
		[]string{"site/new.xml", "site/new.tmp"},
		[]string{"site/changed.xml", "scripts/build.sh"},
		[]string{"site/old.tmp", "site/old.xml"},
	)
	require.NoError(t, err)

	f, err := NewFilter([]string{"site/**"}, []string{"**/*.tmp"})
	require.NoError(t, err)

	got := f.Apply(cs)

	assert.Equal(t, []string{"site/new.xml"}, got.Created())
	assert.Equal(t, []string{"site/changed.xml"}, got.Updated())
	assert.Equal(t, []string{"site/old.xml"}, got.Deleted())
}

func TestFilter_NilApplyIsIdentity(t *testing.T) {
	cs := All([]string{"a", "b"})

	var f *Filter
	assert.True(t, cs.Equal(f.Apply(cs)))
}

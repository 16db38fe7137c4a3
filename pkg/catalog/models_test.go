package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestSemantic(t *testing.T) {
	v := Version{Major: 1, Minor: 12, Revision: 345}
	assert.Equal(t, "1.12.345", v.Semantic())
}

func TestHexUpper(t *testing.T) {
	id := primitive.NewObjectID()
	v := Version{ID: id}
	assert.Equal(t, strings.ToUpper(id.Hex()), v.HexUpper())
	assert.Equal(t, 24, len(v.HexUpper()))
}

func TestCategoryFolder(t *testing.T) {
	tests := []struct {
		category Category
		folder   string
	}{
		{CategoryGeneral, "general"},
		{CategoryDesktop, "desktop"},
		{CategoryMobile, "mobile"},
		{CategoryWindows, "windows"},
		{CategoryLinux, "linux"},
		{CategoryMacOS, "macos"},
		{CategoryAndroid, "android"},
		{CategoryIOS, "ios"},
		{CategoryUncompressed, "uncompressed"},
		{CategoryBC3, "bc3"},
		{CategoryBC7, "bc7"},
		{CategoryETC2, "etc2"},
		{CategoryASTC, "astc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.folder, tt.category.Folder())
	}
}

func TestBumpTypeValid(t *testing.T) {
	assert.True(t, BumpMajor.Valid())
	assert.True(t, BumpMinor.Valid())
	assert.True(t, BumpRevision.Valid())
	assert.False(t, BumpType(3).Valid())
	assert.False(t, BumpType(-1).Valid())
}

func TestParseID(t *testing.T) {
	id := primitive.NewObjectID()
	parsed, err := ParseID(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	// Uppercase hex from blob keys parses too.
	parsed, err = ParseID(strings.ToLower(strings.ToUpper(id.Hex())))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-an-id")
	require.Error(t, err)
}

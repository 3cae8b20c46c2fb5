package updater

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseImage(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		registry   string
		imageName  string
		tagName    string
		tagDigest  string
	}{
		{"Name only", "guestbook", "", "guestbook", "", ""},
		{"Name and tag", "guestbook:v1.2.3", "", "guestbook", "v1.2.3", ""},
		{"Registry, name and tag", "registry.example.com/team/guestbook:v1", "registry.example.com", "team/guestbook", "v1", ""},
		{"Registry with port", "localhost:5000/guestbook:v1", "localhost:5000", "guestbook", "v1", ""},
		{"Org without dot is part of the name", "team/guestbook:v1", "", "team/guestbook", "v1", ""},
		{"Digest reference", "guestbook@xxh64:0011223344556677", "", "guestbook", "", "xxh64:0011223344556677"},
		{"Tag and digest", "registry.example.com/guestbook:v1@xxh64:0011223344556677", "registry.example.com", "guestbook", "v1", "xxh64:0011223344556677"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := ParseImage(tt.identifier)
			assert.Equal(t, tt.registry, img.RegistryURL)
			assert.Equal(t, tt.imageName, img.ImageName)
			assert.Equal(t, tt.tagName, img.TagName)
			assert.Equal(t, tt.tagDigest, img.TagDigest)
			assert.Equal(t, tt.identifier, img.Original())
		})
	}
}

func TestImageRoundTrip(t *testing.T) {
	for _, identifier := range []string{
		"guestbook:v1",
		"registry.example.com/team/guestbook:v1.2.3",
		"localhost:5000/guestbook:abc1234-0011223344556677",
	} {
		assert.Equal(t, identifier, ParseImage(identifier).String())
	}
}

func TestWithTag(t *testing.T) {
	img := ParseImage("registry.example.com/guestbook:v1")
	updated := img.WithTag("v2")
	assert.Equal(t, "registry.example.com/guestbook:v2", updated.String())
	// original untouched
	assert.Equal(t, "v1", img.TagName)
}

func TestSameName(t *testing.T) {
	a := ParseImage("registry.example.com/guestbook:v1")
	b := ParseImage("registry.example.com/guestbook:v2")
	c := ParseImage("registry.example.com/other:v1")
	assert.True(t, a.SameName(b))
	assert.False(t, a.SameName(c))
	assert.True(t, a.DiffersFrom(b, true))
	assert.False(t, a.DiffersFrom(b, false))
}

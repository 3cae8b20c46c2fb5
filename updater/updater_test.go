package updater

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-cd/windlass/pkg/deploy"
)

const testDescriptor = `
units:
  guestbook:
    image: registry.example.com/team/guestbook:v1.0.0
    replicas: 2
    port: 8080
  billing:
    image: registry.example.com/team/billing:v2.1.0
    replicas: 1
    constraint: "~2.1"
`

func mustUnmarshal(t *testing.T) *deploy.Descriptor {
	t.Helper()
	doc, err := UnmarshalDescriptor([]byte(testDescriptor))
	require.NoError(t, err)
	return doc
}

func TestSetImageTag(t *testing.T) {
	doc := mustUnmarshal(t)
	err := SetImageTag(doc, "guestbook", ParseImage("registry.example.com/team/guestbook:v1.1.0"))
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/team/guestbook:v1.1.0", doc.Units["guestbook"].Image)
	// unrelated fields and units untouched
	assert.Equal(t, 2, doc.Units["guestbook"].Replicas)
	assert.Equal(t, 8080, doc.Units["guestbook"].Port)
	assert.Equal(t, "registry.example.com/team/billing:v2.1.0", doc.Units["billing"].Image)
}

func TestSetImageTagUnitNotFound(t *testing.T) {
	doc := mustUnmarshal(t)
	err := SetImageTag(doc, "frontend", ParseImage("registry.example.com/team/frontend:v1"))
	assert.ErrorIs(t, err, ErrUnitNotFound)
}

func TestSetImageTagNameMismatch(t *testing.T) {
	doc := mustUnmarshal(t)
	err := SetImageTag(doc, "guestbook", ParseImage("registry.example.com/team/billing:v1.1.0"))
	assert.ErrorIs(t, err, ErrImageMismatch)
	// descriptor left untouched on failure
	assert.Equal(t, "registry.example.com/team/guestbook:v1.0.0", doc.Units["guestbook"].Image)
}

func TestSetImageTagConstraint(t *testing.T) {
	doc := mustUnmarshal(t)

	err := SetImageTag(doc, "billing", ParseImage("registry.example.com/team/billing:2.1.5"))
	require.NoError(t, err)

	err = SetImageTag(doc, "billing", ParseImage("registry.example.com/team/billing:3.0.0"))
	assert.ErrorIs(t, err, ErrTagNotAllowed)
}

func TestSetImageTagIdempotent(t *testing.T) {
	doc := mustUnmarshal(t)
	img := ParseImage("registry.example.com/team/guestbook:v1.1.0")

	require.NoError(t, SetImageTag(doc, "guestbook", img))
	first, err := MarshalDescriptor(doc)
	require.NoError(t, err)

	require.NoError(t, SetImageTag(doc, "guestbook", img))
	second, err := MarshalDescriptor(doc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUnmarshalDescriptorRejectsUnknownFields(t *testing.T) {
	_, err := UnmarshalDescriptor([]byte("units:\n  a:\n    image: x:v1\n    flavor: vanilla\n"))
	assert.Error(t, err)
}

func TestUnmarshalDescriptorEmpty(t *testing.T) {
	doc, err := UnmarshalDescriptor([]byte(""))
	require.NoError(t, err)
	assert.NotNil(t, doc.Units)
	assert.Empty(t, doc.Units)
}

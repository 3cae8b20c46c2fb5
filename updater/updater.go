// Package updater rewrites the image reference of a deployable unit inside
// the desired-state descriptor. Updates use keyed access into the parsed
// document rather than pattern substitution, so unrelated fields can never be
// corrupted by a false match.
package updater

import (
	"errors"
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/windlass-cd/windlass/pkg/deploy"
)

var (
	// ErrUnitNotFound is returned when the named unit does not exist in the descriptor
	ErrUnitNotFound = errors.New("deployable unit not found in descriptor")
	// ErrImageMismatch is returned when the new image names a different image
	// than the one currently configured for the unit
	ErrImageMismatch = errors.New("image name does not match the unit's configured image")
	// ErrTagNotAllowed is returned when the unit's version constraint rejects the new tag
	ErrTagNotAllowed = errors.New("tag not permitted by the unit's version constraint")
)

// UnmarshalDescriptor parses a descriptor document
func UnmarshalDescriptor(data []byte) (*deploy.Descriptor, error) {
	var d deploy.Descriptor
	if err := yaml.UnmarshalStrict(data, &d); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	if d.Units == nil {
		d.Units = map[string]deploy.UnitSpec{}
	}
	return &d, nil
}

// MarshalDescriptor serializes a descriptor document. Output is deterministic,
// so applying the same update twice yields byte-identical documents.
func MarshalDescriptor(d *deploy.Descriptor) ([]byte, error) {
	return yaml.Marshal(d)
}

// SetImageTag replaces the tag component of the image reference configured for
// unit. The new image must name exactly the image the unit already uses; a
// missing unit or a mismatched image name fails loudly rather than silently
// doing nothing. The unit's version constraint, when set, gates the new tag.
func SetImageTag(doc *deploy.Descriptor, unit string, newImage *ContainerImage) error {
	if err := newImage.Validate(); err != nil {
		return err
	}
	spec, ok := doc.Units[unit]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnitNotFound, unit)
	}
	current := ParseImage(spec.Image)
	if !current.SameName(newImage) {
		return fmt.Errorf("%w: unit %q runs %q, got %q",
			ErrImageMismatch, unit, current.GetFullNameWithoutTag(), newImage.GetFullNameWithoutTag())
	}
	if spec.Constraint != "" {
		vc := VersionConstraint{Constraint: spec.Constraint, Strategy: StrategySemVer}
		ok, err := vc.Permits(newImage.TagName)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: tag %q, constraint %q", ErrTagNotAllowed, newImage.TagName, spec.Constraint)
		}
	}
	spec.Image = current.WithTag(newImage.TagName).GetFullNameWithTag()
	doc.Units[unit] = spec
	return nil
}

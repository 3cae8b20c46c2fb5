package updater

import (
	"fmt"
	"strings"
)

// ContainerImage is a parsed image reference of the form
// [registry/]name[:tag][@digest]
type ContainerImage struct {
	RegistryURL string
	ImageName   string
	TagName     string
	TagDigest   string
	original    string
}

// ParseImage parses an image identifier and returns a populated ContainerImage
func ParseImage(identifier string) *ContainerImage {
	img := ContainerImage{original: identifier}
	img.RegistryURL = getRegistryFromIdentifier(identifier)
	img.ImageName, img.TagName, img.TagDigest = getImageTagFromIdentifier(identifier)
	return &img
}

// String returns the string representation of given ContainerImage
func (img *ContainerImage) String() string {
	return img.GetFullNameWithTag()
}

func (img *ContainerImage) GetFullNameWithoutTag() string {
	str := ""
	if img.RegistryURL != "" {
		str += img.RegistryURL + "/"
	}
	str += img.ImageName
	return str
}

// GetFullNameWithTag returns the complete image slug, including the registry
// and any tag digest or tag name set for the image.
func (img *ContainerImage) GetFullNameWithTag() string {
	str := img.GetFullNameWithoutTag()
	if img.TagName != "" {
		str += ":" + img.TagName
	}
	if img.TagDigest != "" {
		str += "@" + img.TagDigest
	}
	return str
}

// Original returns the identifier the image was parsed from
func (img *ContainerImage) Original() string {
	return img.original
}

// WithTag returns a copy of img with new tag information set
func (img *ContainerImage) WithTag(newTag string) *ContainerImage {
	nimg := *img
	nimg.TagName = newTag
	nimg.TagDigest = ""
	return &nimg
}

// SameName checks whether both images reference the same registry and name,
// regardless of their tags
func (img *ContainerImage) SameName(other *ContainerImage) bool {
	return img.RegistryURL == other.RegistryURL && img.ImageName == other.ImageName
}

// DiffersFrom returns whether img differs from other, optionally including tags
// in the comparison
func (img *ContainerImage) DiffersFrom(other *ContainerImage, checkVersion bool) bool {
	return !img.SameName(other) || (checkVersion && img.TagName != other.TagName)
}

// Validate returns an error when the reference has no usable name
func (img *ContainerImage) Validate() error {
	if img.ImageName == "" {
		return fmt.Errorf("invalid image reference: %q", img.original)
	}
	return nil
}

// Gets the registry URL from an image identifier. Anything before the first
// slash containing a dot or port separator is treated as a registry host.
func getRegistryFromIdentifier(identifier string) string {
	comp := strings.Split(identifier, "/")
	if len(comp) > 1 && (strings.Contains(comp[0], ".") || strings.Contains(comp[0], ":")) {
		return comp[0]
	}
	return ""
}

// Gets the image name, tag and digest from an image identifier
func getImageTagFromIdentifier(identifier string) (string, string, string) {
	imageString := identifier

	// Strip any registry host from the string
	comp := strings.Split(imageString, "/")
	if len(comp) > 1 && (strings.Contains(comp[0], ".") || strings.Contains(comp[0], ":")) {
		imageString = strings.Join(comp[1:], "/")
	}

	// We can either have a tag name, a digest reference, or both
	var digest string
	if strings.Contains(imageString, "@") {
		comp = strings.SplitN(imageString, "@", 2)
		imageString = comp[0]
		digest = comp[1]
	}
	comp = strings.SplitN(imageString, ":", 2)
	if len(comp) != 2 {
		return imageString, "", digest
	}
	return comp[0], comp[1], digest
}

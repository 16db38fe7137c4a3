package manifest

import "github.com/frostline/updated/pkg/catalog"

// Wire values of the client operating system parameter. Index 5 is
// reserved; it resolves to General-only content.
const (
	OSWindows = iota
	OSLinux
	OSMacOS
	OSAndroid
	OSIOS
	osReserved

	osCount
)

// Wire values of the client texture format parameter.
const (
	TextureUncompressed = iota
	TextureBC3
	TextureBC7
	TextureETC2
	TextureASTC

	textureCount
)

// PlatformLookup maps the OS wire value to its coarse platform category.
var PlatformLookup = [osCount]catalog.Category{
	OSWindows:  catalog.CategoryDesktop,
	OSLinux:    catalog.CategoryDesktop,
	OSMacOS:    catalog.CategoryDesktop,
	OSAndroid:  catalog.CategoryMobile,
	OSIOS:      catalog.CategoryMobile,
	osReserved: catalog.CategoryGeneral,
}

// OperatingSystemLookup maps the OS wire value to its OS category.
var OperatingSystemLookup = [osCount]catalog.Category{
	OSWindows:  catalog.CategoryWindows,
	OSLinux:    catalog.CategoryLinux,
	OSMacOS:    catalog.CategoryMacOS,
	OSAndroid:  catalog.CategoryAndroid,
	OSIOS:      catalog.CategoryIOS,
	osReserved: catalog.CategoryGeneral,
}

// TextureLookup maps the texture wire value to its texture category.
var TextureLookup = [textureCount]catalog.Category{
	TextureUncompressed: catalog.CategoryUncompressed,
	TextureBC3:          catalog.CategoryBC3,
	TextureBC7:          catalog.CategoryBC7,
	TextureETC2:         catalog.CategoryETC2,
	TextureASTC:         catalog.CategoryASTC,
}

// ValidOS reports whether the wire value is within range.
func ValidOS(os int) bool { return os >= 0 && os < osCount }

// ValidTexture reports whether the wire value is within range.
func ValidTexture(texture int) bool { return texture >= 0 && texture < textureCount }

// relevantCategories resolves the category set delivered to a caller:
// General always, plus the platform, OS and texture categories for its
// wire values.
func relevantCategories(os, texture int) []catalog.Category {
	seen := map[catalog.Category]bool{}
	var out []catalog.Category
	for _, c := range []catalog.Category{
		catalog.CategoryGeneral,
		PlatformLookup[os],
		OperatingSystemLookup[os],
		TextureLookup[texture],
	} {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frostline/updated/pkg/catalog"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path      string
		category  catalog.Category
		localPath string
		ok        bool
	}{
		{path: "general/a.png", category: catalog.CategoryGeneral, localPath: "a.png", ok: true},
		{path: "general/ui/menu/bg.png", category: catalog.CategoryGeneral, localPath: "ui/menu/bg.png", ok: true},
		{path: "desktop/shader.bin", category: catalog.CategoryDesktop, localPath: "shader.bin", ok: true},
		{path: "mobile/shader.bin", category: catalog.CategoryMobile, localPath: "shader.bin", ok: true},
		{path: "windows/w.dll", category: catalog.CategoryWindows, localPath: "w.dll", ok: true},
		{path: "linux/lib.so", category: catalog.CategoryLinux, localPath: "lib.so", ok: true},
		{path: "macos/lib.dylib", category: catalog.CategoryMacOS, localPath: "lib.dylib", ok: true},
		{path: "android/lib.so", category: catalog.CategoryAndroid, localPath: "lib.so", ok: true},
		{path: "ios/lib.a", category: catalog.CategoryIOS, localPath: "lib.a", ok: true},
		{path: "uncompressed/t.raw", category: catalog.CategoryUncompressed, localPath: "t.raw", ok: true},
		{path: "bc3/b.ktx", category: catalog.CategoryBC3, localPath: "b.ktx", ok: true},
		{path: "bc7/b.ktx", category: catalog.CategoryBC7, localPath: "b.ktx", ok: true},
		{path: "etc2/b.ktx", category: catalog.CategoryETC2, localPath: "b.ktx", ok: true},
		{path: "astc/b.ktx", category: catalog.CategoryASTC, localPath: "b.ktx", ok: true},

		// Unmatched paths are dropped.
		{path: "readme.txt"},
		{path: "extras/a.png"},
		{path: "general"},
		{path: "general/"},

		// The category folder must be the archive root.
		{path: "stuff/windows/w.dll"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			category, localPath, ok := Classify(tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.category, category)
				assert.Equal(t, tt.localPath, localPath)
			}
		})
	}
}

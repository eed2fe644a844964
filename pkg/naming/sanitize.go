package naming

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	invalidChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots   = regexp.MustCompile(`\.+$`)
	repeatedSpaces = regexp.MustCompile(`\s+`)
)

// Sanitize makes name safe to use as a file name on common filesystems.
//
// Invalid characters (<>:"/\|?* and control characters) become underscores,
// trailing dots are dropped and runs of whitespace collapse to one space.
func Sanitize(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = repeatedSpaces.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// DirName turns a collection title into a single path element under the
// output directory. Separators are replaced, so the result never names a
// parent or nested directory.
func DirName(title string) string {
	name := Sanitize(title)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// SplitExt splits name into stem and extension (with the dot)
func SplitExt(name string) (string, string) {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// Alternate returns the n-th collision alternative for name: "stem (n).ext"
func Alternate(name string, n int) string {
	stem, ext := SplitExt(name)
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}

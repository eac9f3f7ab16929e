package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = fmt.Errorf("path traversal detected")
	ErrAbsolutePath  = fmt.Errorf("absolute paths are not allowed")
	ErrReservedName  = fmt.Errorf("reserved filename not allowed")
	ErrLeadingHyphen = fmt.Errorf("filename cannot start with hyphen")
	ErrEmptyPath     = fmt.Errorf("output path is empty")

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
)

// ValidateOutputPath accepts relative paths that stay under the working directory.
func ValidateOutputPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}

	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}

	for _, part := range strings.FieldsFunc(path, isSeparator) {
		if part == ".." {
			return ErrPathTraversal
		}
	}

	base := filepath.Base(filepath.Clean(path))
	if isReserved(base) {
		return ErrReservedName
	}

	if strings.HasPrefix(base, "-") {
		return ErrLeadingHyphen
	}

	return nil
}

// ComponentFilename turns a component name from the service into a safe filename with ext.
func ComponentFilename(name, ext string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", " ", "",
		"*", "", "?", "", "\"", "",
		"<", "", ">", "", "|", "", "\x00", "",
	)
	sanitized := replacer.Replace(name)
	sanitized = strings.TrimLeft(sanitized, ".-")
	sanitized = strings.TrimRight(sanitized, ". ")

	if sanitized == "" {
		sanitized = "Component"
	}
	if isReserved(sanitized) {
		sanitized += "_"
	}

	return sanitized + ext
}

func isReserved(base string) bool {
	name := strings.TrimSuffix(strings.ToLower(base), filepath.Ext(base))
	return windowsReservedNames[name]
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

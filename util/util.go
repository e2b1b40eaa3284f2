// Package util holds small helpers shared by the CLI.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode"
	"unicode/utf8"
)

// PrintableUTF8OrEmpty checks to see if the entire string is a UTF8
// printable string. If this is the case, the string is returned as is.
// Otherwise, the empty string is returned.
func PrintableUTF8OrEmpty(in string) string {
	for _, c := range in {
		if c == utf8.RuneError || !unicode.IsPrint(c) {
			return ""
		}
	}
	return in
}

// MaybeFail exits if there was an error.
func MaybeFail(err error, errfmt string, params ...interface{}) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, errfmt, params...)
	fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	os.Exit(1)
}

// FileExists checks to see if the specified file (or directory) exists.
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}

// GetConfigFromDataDir Given the data directory, configuration filename
// and a list of types, see if a configuration file that matches was
// located there. If no configuration file was there then an empty
// string is returned. If more than one filetype was matched, an error
// is returned.
func GetConfigFromDataDir(dataDirectory string, configFilename string, configFileTypes []string) (string, error) {
	count := 0
	fullPath := ""
	var err error

	for _, configFileType := range configFileTypes {
		autoloadParamConfigPath := filepath.Join(dataDirectory, configFilename+"."+configFileType)
		if FileExists(autoloadParamConfigPath) {
			count++
			fullPath = autoloadParamConfigPath
		}
	}

	if count > 1 {
		return "", fmt.Errorf("multiple %s files found in %s", configFilename, dataDirectory)
	}

	return fullPath, err
}

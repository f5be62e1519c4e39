// Package version reports the ringd version.
package version

import (
	"fmt"
	"strings"
)

// validCharacters is a list of characters valid in the appBuild string
const validCharacters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

const (
	appMajor uint = 0
	appMinor uint = 3
	appPatch uint = 0
)

// appBuild is defined as a variable so it can be overridden during the build
// process with '-ldflags "-X github.com/ringchain/ringd/version.appBuild=foo"' if needed.
// It MUST only contain characters from validCharacters.
var appBuild string

// Version returns the application version as a properly formed string
func Version() string {
	return versionWithBuild(appBuild)
}

func versionWithBuild(build string) string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)

	// The build metadata is dropped if it contains invalid characters.
	build = checkAppBuild(build)
	if build != "" {
		version = fmt.Sprintf("%s-%s", version, build)
	}
	return version
}

// checkAppBuild returns the passed string unless it contains any characters not in validCharacters
// If any invalid characters are encountered - an empty string is returned
func checkAppBuild(str string) string {
	for _, r := range str {
		if !strings.ContainsRune(validCharacters, r) {
			return ""
		}
	}
	return str
}

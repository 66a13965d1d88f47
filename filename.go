package main

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// windowsDeviceNames cannot be used as file names on Windows hosts.
var windowsDeviceNames = map[string]bool{
	"CON": true, "AUX": true, "COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "PRN": true, "NUL": true,
}

// secureFilename reduces a client supplied name to a flat ASCII file name.
// The result may be empty.
func secureFilename(name string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}

	s := strings.NewReplacer("/", " ", `\`, " ").Replace(b.String())
	s = strings.Join(strings.Fields(s), "_")
	s = unsafeFilenameChars.ReplaceAllString(s, "")
	s = strings.Trim(s, "._")

	if windowsDeviceNames[strings.ToUpper(strings.SplitN(s, ".", 2)[0])] {
		s = "_" + s
	}

	return s
}

// uploadFilename builds the on-disk name: a microsecond timestamp prefix and
// the sanitized client name, or a random name when nothing survives.
func uploadFilename(timestamp, name string) string {
	safe := secureFilename(name)
	if safe == "" {
		safe = uuid.NewString()
	}

	return timestamp + "_" + safe
}

package main

import (
	"fmt"

	"github.com/lk2023060901/glacier-archiver/internal/archive/naming"
)

// retrieveName picks the local file name for a retrieved url: the archive entry name for
// small files, a positional name otherwise.
func retrieveName(url string, i int) string {
	loc, err := naming.ParseURL("", url)
	if err == nil && loc.Small() {
		return loc.Entry
	}
	return fmt.Sprintf("file-%d", i+1)
}

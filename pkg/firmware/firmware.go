// Package firmware turns a file on disk into the immutable byte
// sequence the bootloader engine flashes. Locating and selecting the
// file is the desktop UI's concern; this package only reads it.
package firmware

import "os"

// ReadFile loads the firmware image at path in full.
func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

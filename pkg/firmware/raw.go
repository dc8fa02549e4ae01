package firmware

import "os"

// loadRaw reads a firmware file verbatim, with no decoding: the whole file
// becomes the flash image.
func loadRaw(path string) ([]byte, error) {
	return os.ReadFile(path)
}

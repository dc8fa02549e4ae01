package firmware

import (
	"path/filepath"
	"strings"

	"github.com/tytools/tytools/pkg/tyerr"
)

// Firmware is a fully loaded firmware image ready for model cross-check and
// upload.
type Firmware struct {
	Filename string
	Image    []byte
}

// Size returns the image length in bytes.
func (f *Firmware) Size() int {
	return len(f.Image)
}

// Format is one named loader. Formats are matched by the extension in
// Extensions, or can be requested explicitly by Name.
type Format struct {
	Name       string
	Extensions []string
	Load       func(path string) ([]byte, error)
}

var formats []Format

// RegisterFormat adds a loader to the format table, in the spirit of
// spec.md §6's ty_firmware_formats table.
func RegisterFormat(f Format) {
	formats = append(formats, f)
}

func init() {
	RegisterFormat(Format{Name: "raw", Extensions: nil, Load: loadRaw})
	RegisterFormat(Format{Name: "ihex", Extensions: []string{".hex", ".ihex"}, Load: loadIHex})
}

func findFormat(name string) (Format, bool) {
	for _, f := range formats {
		if f.Name == name {
			return f, true
		}
	}
	return Format{}, false
}

func detectFormat(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range formats {
		for _, e := range f.Extensions {
			if e == ext {
				return f
			}
		}
	}
	raw, _ := findFormat("raw")
	return raw
}

// Load reads path and decodes it into a Firmware image. If format is "",
// the format is auto-detected from the file extension (falling back to
// raw binary).
func Load(path string, format string) (*Firmware, error) {
	var f Format
	if format != "" {
		var ok bool
		f, ok = findFormat(format)
		if !ok {
			return nil, tyerr.New(tyerr.KindParam, "unknown firmware format %q", format)
		}
	} else {
		f = detectFormat(path)
	}

	image, err := f.Load(path)
	if err != nil {
		return nil, tyerr.Wrap(tyerr.KindIO, err, "load firmware %s", path)
	}

	return &Firmware{Filename: path, Image: image}, nil
}

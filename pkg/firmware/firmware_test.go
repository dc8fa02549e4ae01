package firmware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tytools/tytools/pkg/tyerr"
)

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadDetectsRawByDefault(t *testing.T) {
	path := writeTempFile(t, "app.bin", []byte{0xDE, 0xAD, 0xBE, 0xEF})

	fw, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fw.Size() != 4 {
		t.Errorf("Size() = %d, want 4", fw.Size())
	}
}

func TestLoadDetectsIHexByExtension(t *testing.T) {
	path := writeTempFile(t, "app.hex", []byte(":0F0000000102030405060708090A0B0C0D0E0F79\n:00000001FF\n"))

	fw, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fw.Size() != 15 {
		t.Errorf("Size() = %d, want 15", fw.Size())
	}
}

func TestLoadHonorsExplicitFormatOverExtension(t *testing.T) {
	path := writeTempFile(t, "app.hex", []byte{0x00, 0x01, 0x02})

	fw, err := Load(path, "raw")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fw.Size() != 3 {
		t.Errorf("Size() = %d, want 3", fw.Size())
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := writeTempFile(t, "app.bin", []byte{0x00})

	_, err := Load(path, "elf")
	if !tyerr.Is(err, tyerr.KindParam) {
		t.Errorf("Load with an unknown format should fail KindParam, got %v", err)
	}
}

func TestLoadWrapsMissingFileAsIOError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.bin"), "")
	if !tyerr.Is(err, tyerr.KindIO) {
		t.Errorf("Load of a missing file should fail KindIO, got %v", err)
	}
}

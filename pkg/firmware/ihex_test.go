package firmware

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempHex(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fw.hex")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp hex: %v", err)
	}
	return path
}

func TestLoadIHexSimpleDataRecord(t *testing.T) {
	// count=0x0F, addr=0000, type=00, data=01..0F, checksum=0x79
	path := writeTempHex(t, []string{
		":0F0000000102030405060708090A0B0C0D0E0F79",
		":00000001FF",
	})

	img, err := loadIHex(path)
	if err != nil {
		t.Fatalf("loadIHex: %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}
	if len(img) != len(want) {
		t.Fatalf("image length = %d, want %d", len(img), len(want))
	}
	for i := range want {
		if img[i] != want[i] {
			t.Fatalf("byte %d = 0x%02X, want 0x%02X", i, img[i], want[i])
		}
	}
}

func TestLoadIHexExtendedLinearAddress(t *testing.T) {
	path := writeTempHex(t, []string{
		":020000040001F9",
		":10000000AABBCCDDEEFF00112233445566778899F8",
		":00000001FF",
	})

	img, err := loadIHex(path)
	if err != nil {
		t.Fatalf("loadIHex: %v", err)
	}
	if len(img) != 16 {
		t.Fatalf("image length = %d, want 16", len(img))
	}
	if img[0] != 0xAA || img[15] != 0x99 {
		t.Fatalf("unexpected image contents: %x", img)
	}
}

func TestLoadIHexBadChecksum(t *testing.T) {
	path := writeTempHex(t, []string{
		":0F0000000102030405060708090A0B0C0D0E0F00",
	})

	if _, err := loadIHex(path); err == nil {
		t.Fatal("expected checksum error, got nil")
	}
}

func TestLoadIHexMissingColon(t *testing.T) {
	path := writeTempHex(t, []string{
		"100000000102030405060708090A0B0C0D0E0F72",
	})

	if _, err := loadIHex(path); err == nil {
		t.Fatal("expected malformed-record error, got nil")
	}
}

func TestLoadViaFormatDetection(t *testing.T) {
	path := writeTempHex(t, []string{
		":0F0000000102030405060708090A0B0C0D0E0F79",
		":00000001FF",
	})

	fw, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fw.Size() != 15 {
		t.Fatalf("Size() = %d, want 15", fw.Size())
	}
}

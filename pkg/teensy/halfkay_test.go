package teensy

import (
	"testing"

	"github.com/tytools/tytools/pkg/model"
)

func TestFindVariant(t *testing.T) {
	v, ok := findVariant(0x0273)
	if !ok || v.model != "teensy30" || v.blockSize != 1024 {
		t.Fatalf("findVariant(0x0273) = %+v, %v, want teensy30/1024", v, ok)
	}

	if _, ok := findVariant(0xDEAD); ok {
		t.Error("findVariant(0xDEAD) should not match any variant")
	}
}

func TestBlockLayoutPicksHeaderSizeFromBlockSize(t *testing.T) {
	teensy20, _ := model.Find("teensy20")
	size, header := blockLayout(teensy20)
	if size != 128 || header != 2 {
		t.Errorf("blockLayout(teensy20) = %d/%d, want 128/2", size, header)
	}

	teensy30, _ := model.Find("teensy30")
	size, header = blockLayout(teensy30)
	if size != 1024 || header != 3 {
		t.Errorf("blockLayout(teensy30) = %d/%d, want 1024/3", size, header)
	}
}

func TestBlockLayoutFallsBackForUnknownModel(t *testing.T) {
	size, header := blockLayout(model.Model{})
	if size != 1024 || header != 3 {
		t.Errorf("blockLayout(zero Model) = %d/%d, want the 1024/3 fallback", size, header)
	}
}

func TestModelBcdDevice(t *testing.T) {
	teensy31, _ := model.Find("teensy31")
	if got := modelBcdDevice(teensy31); got != 0x0275 {
		t.Errorf("modelBcdDevice(teensy31) = 0x%04x, want 0x0275", got)
	}
	if got := modelBcdDevice(model.Model{}); got != 0 {
		t.Errorf("modelBcdDevice(zero Model) = 0x%04x, want 0", got)
	}
}

func TestPutAddressTwoByteHeader(t *testing.T) {
	block := make([]byte, 2+4)
	putAddress(block, 2, 0x1234)
	if block[0] != 0x34 || block[1] != 0x12 {
		t.Errorf("putAddress two-byte header = %x %x, want 34 12", block[0], block[1])
	}
}

func TestPutAddressThreeByteHeader(t *testing.T) {
	block := make([]byte, 3+4)
	putAddress(block, 3, 0x123456)
	if block[0] != 0x56 || block[1] != 0x34 || block[2] != 0x12 {
		t.Errorf("putAddress three-byte header = %x %x %x, want 56 34 12", block[0], block[1], block[2])
	}
}

func TestPutAddressRebootSentinel(t *testing.T) {
	block := make([]byte, 3+4)
	putAddress(block, 3, 0xFFFFFFFF)
	if block[0] != 0xFF || block[1] != 0xFF || block[2] != 0xFF {
		t.Errorf("putAddress reboot sentinel = %x %x %x, want ff ff ff", block[0], block[1], block[2])
	}
}

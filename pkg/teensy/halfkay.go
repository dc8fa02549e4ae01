// Package teensy is the vendor driver for Teensy boards, registered against
// pkg/board at import time. It recognizes two very different USB personas of
// the same physical board: the HalfKay bootloader (upload/reset, present for
// a few seconds after reset or a manual button press) and a running sketch
// exposing a USB-serial port (reboot/serial, present whenever the
// user's firmware has called Serial.begin()).
package teensy

import (
	"context"
	"time"

	"github.com/google/gousb"
	"github.com/tytools/tytools/pkg/board"
	"github.com/tytools/tytools/pkg/firmware"
	"github.com/tytools/tytools/pkg/model"
	"github.com/tytools/tytools/pkg/tyerr"
	"github.com/tytools/tytools/pkg/usbmon"
)

// HalfKay bootloaders all share one VID:PID; the board release number
// (bcdDevice) is how the bootloader tells the host which chip, and
// therefore which block size and model, it's talking to.
const (
	halfkayVID = 0x16C0
	halfkayPID = 0x0478
)

type halfkayVariant struct {
	bcdDevice uint16
	model     string
	blockSize int
}

// bcdDevice values are assigned by PJRC per chip family; this mirrors the
// table teensy_loader_cli ships for the same purpose.
var halfkayVariants = []halfkayVariant{
	{bcdDevice: 0x0100, model: "teensy20", blockSize: 128},
	{bcdDevice: 0x0200, model: "teensypp10", blockSize: 256},
	{bcdDevice: 0x0274, model: "teensypp20", blockSize: 256},
	{bcdDevice: 0x0273, model: "teensy30", blockSize: 1024},
	{bcdDevice: 0x0275, model: "teensy31", blockSize: 1024},
}

func findVariant(bcdDevice uint16) (halfkayVariant, bool) {
	for _, v := range halfkayVariants {
		if v.bcdDevice == bcdDevice {
			return v, true
		}
	}
	return halfkayVariant{}, false
}

func init() {
	board.RegisterVendor("teensy-halfkay", openBootloader)
	board.RegisterVendor("teensy-serial", openSerial)
}

func openBootloader(dev *usbmon.Device) (*board.Interface, error) {
	if dev.VID() != halfkayVID || dev.PID() != halfkayPID {
		return nil, tyerr.New(tyerr.KindNotFound, "not a HalfKay bootloader device")
	}

	raw := dev.Raw()
	if raw == nil {
		return nil, tyerr.New(tyerr.KindNotFound, "not a HalfKay bootloader device")
	}

	variant, ok := findVariant(uint16(raw.Desc.Device))
	if !ok {
		return nil, tyerr.New(tyerr.KindMode, "unrecognized HalfKay board release 0x%04x", raw.Desc.Device)
	}

	m, ok := model.Find(variant.model)
	if !ok {
		return nil, tyerr.New(tyerr.KindMode, "model %s not registered", variant.model)
	}

	caps := board.Set(0).With(board.CapabilityUpload).With(board.CapabilityReset)
	return board.NewInterface(dev, "Teensy HalfKay Bootloader", m, 0, caps, bootloaderVtable), nil
}

var bootloaderVtable = &board.Vtable{
	Upload: halfkayUpload,
	Reset:  halfkayReset,
}

// halfkayUpload streams fw to the device in boot-block-sized control
// transfers. Each block is addressed by its absolute offset; HalfKay erases
// and programs the corresponding flash page as each block arrives.
func halfkayUpload(iface *board.Interface, fw *firmware.Firmware, progress board.ProgressFunc) error {
	raw := iface.Device().Raw()
	if raw == nil {
		return tyerr.New(tyerr.KindIO, "bootloader device handle is gone")
	}

	blockSize, headerSize := blockLayout(iface.Model())
	image := fw.Image
	total := len(image)

	for offset := 0; offset < total || offset == 0; offset += blockSize {
		block := make([]byte, headerSize+blockSize)
		putAddress(block, headerSize, uint32(offset))

		end := offset + blockSize
		if end > total {
			end = total
		}
		if offset < total {
			copy(block[headerSize:], image[offset:end])
		}

		if err := sendBlock(raw, block); err != nil {
			return tyerr.Wrap(tyerr.KindIO, err, "write block at offset %d", offset)
		}

		if progress != nil {
			progress("upload", int64(end), int64(total))
		}

		if total == 0 {
			break
		}
	}

	return nil
}

// halfkayReset asks the bootloader to jump to the freshly written
// application by sending a block addressed past any real flash offset.
func halfkayReset(iface *board.Interface) error {
	raw := iface.Device().Raw()
	if raw == nil {
		return tyerr.New(tyerr.KindIO, "bootloader device handle is gone")
	}

	blockSize, headerSize := blockLayout(iface.Model())
	block := make([]byte, headerSize+blockSize)
	putAddress(block, headerSize, 0xFFFFFFFF)

	if err := sendBlock(raw, block); err != nil {
		return tyerr.Wrap(tyerr.KindIO, err, "send reboot block")
	}
	return nil
}

func blockLayout(m model.Model) (blockSize, headerSize int) {
	variant, _ := findVariant(modelBcdDevice(m))
	if variant.blockSize == 0 {
		variant.blockSize = 1024
	}
	if variant.blockSize > 256 {
		return variant.blockSize, 3
	}
	return variant.blockSize, 2
}

func modelBcdDevice(m model.Model) uint16 {
	for _, v := range halfkayVariants {
		if v.model == m.Name {
			return v.bcdDevice
		}
	}
	return 0
}

func putAddress(block []byte, headerSize int, addr uint32) {
	block[0] = byte(addr)
	block[1] = byte(addr >> 8)
	if headerSize > 2 {
		block[2] = byte(addr >> 16)
	}
}

// sendBlock issues the HalfKay HID SET_REPORT control transfer that carries
// one program block to the bootloader.
func sendBlock(dev *gousb.Device, block []byte) error {
	const (
		hidSetReport  = 0x09
		hidReportType = 0x0200 // output report, id 0
		requestType   = 0x21   // host-to-device, class, interface
	)
	_, err := dev.Control(requestType, hidSetReport, hidReportType, 0, block)
	return err
}

// openSerial recognizes a Teensy running a sketch with an active USB-serial
// port: same vendor id family, but a product id outside the HalfKay range
// and a CDC-ACM-shaped interface.
func openSerial(dev *usbmon.Device) (*board.Interface, error) {
	if dev.VID() != halfkayVID || dev.PID() == halfkayPID {
		return nil, tyerr.New(tyerr.KindNotFound, "not a Teensy serial device")
	}

	raw := dev.Raw()
	if raw == nil {
		return nil, tyerr.New(tyerr.KindNotFound, "not a Teensy serial device")
	}

	sh, err := newSerialHandle(raw)
	if err != nil {
		return nil, tyerr.Wrap(tyerr.KindNotFound, err, "not a Teensy serial device")
	}

	caps := board.Set(0).With(board.CapabilityReboot).With(board.CapabilitySerial)
	return board.NewInterface(dev, "Teensy USB Serial", model.Model{}, 0, caps, serialVtableFor(sh)), nil
}

type serialHandle struct {
	raw  *gousb.Device
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

// newSerialHandle claims the CDC data interface and opens its bulk
// endpoints, mirroring how pkg/jtag's USBTransport claims CMSIS-DAP's
// vendor interface.
func newSerialHandle(raw *gousb.Device) (*serialHandle, error) {
	cfg, err := raw.Config(1)
	if err != nil {
		return nil, err
	}

	dataIfaceNum := -1
	for _, i := range cfg.Desc.Interfaces {
		if len(i.AltSettings) == 0 {
			continue
		}
		if i.AltSettings[0].Class == gousb.ClassCDCData {
			dataIfaceNum = i.Number
			break
		}
	}
	if dataIfaceNum == -1 {
		cfg.Close()
		return nil, tyerr.New(tyerr.KindNotFound, "no CDC data interface")
	}

	intf, err := cfg.Interface(dataIfaceNum, 0)
	if err != nil {
		cfg.Close()
		return nil, err
	}

	var inAddr, outAddr int
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			inAddr = ep.Number
		} else {
			outAddr = ep.Number
		}
	}
	if inAddr == 0 || outAddr == 0 {
		intf.Close()
		return nil, tyerr.New(tyerr.KindNotFound, "CDC data interface has no bulk endpoints")
	}

	in, err := intf.InEndpoint(inAddr)
	if err != nil {
		intf.Close()
		return nil, err
	}
	out, err := intf.OutEndpoint(outAddr)
	if err != nil {
		intf.Close()
		return nil, err
	}

	return &serialHandle{raw: raw, intf: intf, in: in, out: out}, nil
}

func serialVtableFor(sh *serialHandle) *board.Vtable {
	return &board.Vtable{
		Reboot:              sh.reboot,
		SerialRead:          sh.read,
		SerialWrite:         sh.write,
		SerialSetAttributes: sh.setAttributes,
	}
}

// reboot sets the line coding to 134 baud, the signal Teensyduino's USB-serial stack
// watches for to jump back into the bootloader (the same trick avrdude and
// teensy_loader_cli use to auto-reboot boards before flashing).
func (sh *serialHandle) reboot(_ *board.Interface) error {
	return sh.setAttributes(nil, 134, 0)
}

func (sh *serialHandle) read(_ *board.Interface, buf []byte, timeout time.Duration) (int, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return sh.in.ReadContext(ctx, buf)
}

func (sh *serialHandle) write(_ *board.Interface, buf []byte) (int, error) {
	return sh.out.Write(buf)
}

// setAttributes issues a CDC SET_LINE_CODING request; Teensyduino's serial
// emulation doesn't have real UART framing, but it still watches the baud
// rate field for the 134-baud reboot signal.
func (sh *serialHandle) setAttributes(_ *board.Interface, rate uint32, _ int) error {
	const (
		cdcSetLineCoding = 0x20
		requestType      = 0x21 // host-to-device, class, interface
	)
	payload := []byte{
		byte(rate), byte(rate >> 8), byte(rate >> 16), byte(rate >> 24),
		0, // 1 stop bit
		0, // no parity
		8, // 8 data bits
	}
	_, err := sh.raw.Control(requestType, cdcSetLineCoding, 0, uint16(sh.intf.Setting.Number), payload)
	return err
}

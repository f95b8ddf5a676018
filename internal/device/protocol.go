package device

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
)

// duckyPad Pro HID identity
const (
	VendorID  uint16 = 0x0483
	ProductID uint16 = 0xd11c
	UsagePage uint16 = 0x0001
	Usage     uint16 = 0x003a
)

const (
	OutputReportSize = 64
	InputReportSize  = 32

	// DefaultReplyTimeout is how long a reply is awaited after each command
	DefaultReplyTimeout = 5 * time.Second
	readCadence         = 10 * time.Millisecond
)

// Report layout: [report id][sequence][command][payload...]
const (
	reportID       byte = 0x05
	cmdInfo        byte = 0x00
	cmdGotoProfile byte = 0x01
)

func newReport(cmd byte) []byte {
	buf := make([]byte, OutputReportSize)
	buf[0] = reportID
	buf[2] = cmd
	return buf
}

func gotoProfileReport(id config.ProfileID) []byte {
	buf := newReport(cmdGotoProfile)
	binary.LittleEndian.PutUint32(buf[3:7], uint32(id))
	return buf
}

func infoReport() []byte {
	return newReport(cmdInfo)
}

// parseFirmware reads major.minor.patch from an info reply
func parseFirmware(reply []byte) (string, bool) {
	if len(reply) < 6 {
		return "", false
	}
	return fmt.Sprintf("%d.%d.%d", reply[3], reply[4], reply[5]), true
}

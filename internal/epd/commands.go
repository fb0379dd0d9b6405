package epd

import "fmt"

type command byte

// Panel controller commands. Names follow the controller datasheet.
const (
	cmdPSR   command = 0x00 // panel setting
	cmdPWR   command = 0x01 // power setting
	cmdPOF   command = 0x02 // power off
	cmdPFS   command = 0x03 // power off sequence
	cmdPON   command = 0x04 // power on
	cmdBTST1 command = 0x05 // booster soft start
	cmdBTST2 command = 0x06
	cmdDSLP  command = 0x07 // deep sleep
	cmdBTST3 command = 0x08
	cmdDTM   command = 0x10 // data start transmission
	cmdDRF   command = 0x12 // display refresh
	cmdIPC   command = 0x13
	cmdPLL   command = 0x30
	cmdTSE   command = 0x41 // temperature sensor enable
	cmdCDI   command = 0x50 // VCOM and data interval
	cmdTCON  command = 0x60
	cmdTRES  command = 0x61 // resolution
	cmdVDCS  command = 0x82
	cmdTVDCS command = 0x84
	cmdAGID  command = 0x86
	cmdCMDH  command = 0xAA // command header unlock
	cmdCCSET command = 0xE0
	cmdPWS   command = 0xE3 // power saving
	cmdTSSET command = 0xE6
)

var commandNames = map[command]string{
	cmdPSR:   "PSR",
	cmdPWR:   "PWR",
	cmdPOF:   "POF",
	cmdPFS:   "PFS",
	cmdPON:   "PON",
	cmdBTST1: "BTST1",
	cmdBTST2: "BTST2",
	cmdDSLP:  "DSLP",
	cmdBTST3: "BTST3",
	cmdDTM:   "DTM",
	cmdDRF:   "DRF",
	cmdIPC:   "IPC",
	cmdPLL:   "PLL",
	cmdTSE:   "TSE",
	cmdCDI:   "CDI",
	cmdTCON:  "TCON",
	cmdTRES:  "TRES",
	cmdVDCS:  "VDCS",
	cmdTVDCS: "T_VDCS",
	cmdAGID:  "AGID",
	cmdCMDH:  "CMDH",
	cmdCCSET: "CCSET",
	cmdPWS:   "PWS",
	cmdTSSET: "TSSET",
}

func (c command) String() string {
	if n, ok := commandNames[c]; ok {
		return fmt.Sprintf("%s(0x%02X)", n, byte(c))
	}
	return fmt.Sprintf("0x%02X", byte(c))
}

// deepSleepCheck is the argument the controller expects after DSLP.
const deepSleepCheck = 0xA5

// frame is one command followed by its data bytes.
type frame struct {
	cmd  command
	data []byte
}

// initSequence configures the panel registers. It is sent verbatim after
// reset and must not be reordered.
var initSequence = []frame{
	{cmdCMDH, []byte{0x49, 0x55, 0x20, 0x08, 0x09, 0x18}},
	{cmdPWR, []byte{0x3F, 0x00, 0x32, 0x2A, 0x0E, 0x2A}},
	{cmdPSR, []byte{0x5F, 0x69}},
	{cmdPFS, []byte{0x00, 0x54, 0x00, 0x44}},
	{cmdBTST1, []byte{0x40, 0x1F, 0x1F, 0x2C}},
	{cmdBTST2, []byte{0x6F, 0x1F, 0x1F, 0x22}},
	{cmdBTST3, []byte{0x6F, 0x1F, 0x1F, 0x22}},
	{cmdIPC, []byte{0x00, 0x04}},
	{cmdPLL, []byte{0x3C}},
	{cmdTSE, []byte{0x00}},
	{cmdCDI, []byte{0x3F}},
	{cmdTCON, []byte{0x02, 0x00}},
	{cmdTRES, []byte{0x03, 0x20, 0x01, 0xE0}},
	{cmdVDCS, []byte{0x1E}},
	{cmdTVDCS, []byte{0x00}},
	{cmdAGID, []byte{0x00}},
	{cmdPWS, []byte{0x2F}},
	{cmdCCSET, []byte{0x00}},
	{cmdTSSET, []byte{0x00}},
}

package i2c

// Register offsets of the standard SMBus host interface (channels A-C),
// relative to the channel's register window.
const (
	regHOSTA  = 0x00 // host status
	regHOCTL  = 0x01 // host control
	regHOCMD  = 0x02 // host command
	regTRASLA = 0x03 // transmit target address
	regD0REG  = 0x04 // data 0
	regD1REG  = 0x05 // data 1
	regHOBDB  = 0x06 // host block data byte
	regPECERC = 0x07 // PEC error code
	regSMBPCTL = 0x0a // SMBus pin control
	regHOCTL2 = 0x10 // host control 2
)

// Host status register bits. All but the busy bit are write-1-clear.
const (
	hostaHOBY  = 1 << 0 // host busy
	hostaFINTR = 1 << 1 // finish interrupt
	hostaDVER  = 1 << 2 // device error
	hostaBSER  = 1 << 3 // bus error
	hostaFAIL  = 1 << 4 // failed transaction
	hostaNACK  = 1 << 5 // device does not respond ACK
	hostaTMOE  = 1 << 6 // clock/data low timeout
	hostaBDS   = 1 << 7 // byte done status

	hostaAnyError = hostaDVER | hostaBSER | hostaFAIL | hostaNACK | hostaTMOE
	hostaAllWC    = hostaFINTR | hostaAnyError | hostaBDS
	hostaNextByte = hostaBDS
)

// Host control register bits.
const (
	hoctlINTREN   = 1 << 0 // interrupt enable for the master interface
	hoctlKILL     = 1 << 1 // kill the current host transaction
	hoctlExtCmd   = 7 << 2 // extend command: I2C block protocol
	hoctlLastByte = 1 << 5 // the next byte will be the last byte
	hoctlStart    = 1 << 6 // start
)

// Host control 2 register bits.
const (
	hoctl2HostEn = 1 << 0 // SMBus host interface enable
	hoctl2I2CEn  = 1 << 1 // I2C-compatible cycles enable
	hoctl2SwWait = 1 << 2 // direction switch wait
	hoctl2SwEn   = 1 << 3 // direction switch enable
	hoctl2SMHEn  = 1 << 4 // SMDAT-low reset mechanism on 25 ms timeout
)

// SMBus pin control register bits: line levels of the channel.
const (
	smbpctlSCL = 1 << 0
	smbpctlSDA = 1 << 1
)

// Offsets inside the shared SMBus timing window used by the standard
// channels. The clock-timing select register is indexed by port.
const (
	timSCLKTS   = 0x00 // +port: clock timing select for channel A-C
	tim4P7USL   = 0x03
	tim4P0USL   = 0x04
	tim300NS    = 0x05
	tim250NS    = 0x06
	tim45P3USL  = 0x07
	tim45P3USH  = 0x08
	tim4P7A4P0H = 0x09
	tim25MS     = 0x0a // clock/data low timeout
)

// Register offsets of the enhanced raw I2C interface (channels D-F),
// relative to the channel's register window.
const (
	regSTR  = 0x00 // status
	regDHTR = 0x01 // data hold time; bit 7 is software reset
	regTOR  = 0x02 // clock-low timeout
	regDTR  = 0x03 // data transmit
	regCTR  = 0x04 // control
	regCTR1 = 0x05 // control 1; bit 1 is module enable
	regPSR  = 0x08 // prescale
	regHSPR = 0x09 // high-speed prescale
	regDRR  = 0x10 // data receive
	regTOS  = 0x12 // timeout status; carries the line levels
)

// Enhanced control register bits.
const (
	ctlHWRst   = 1 << 0 // hardware reset
	ctlStop    = 1 << 1 // stop
	ctlStart   = 1 << 2 // start and repeat start
	ctlAck     = 1 << 3 // acknowledge
	ctlStsRst  = 1 << 4 // state reset
	ctlModeSel = 1 << 5 // mode select
	ctlIntEn   = 1 << 6 // interrupt enable
	ctlRxMode  = 1 << 7 // 0: standard mode, 1: receive mode

	ctlStsAndHWRst = ctlStsRst | ctlHWRst
	// Generate a start condition and transmit the target address.
	ctlStartID = ctlIntEn | ctlModeSel | ctlAck | ctlStart | ctlHWRst
	// Generate a stop condition.
	ctlFinish = ctlIntEn | ctlModeSel | ctlAck | ctlStop | ctlHWRst
)

// Enhanced status register bits.
const (
	staAck      = 1 << 0 // ACK received
	staIntP     = 1 << 1 // interrupt pending
	staRW       = 1 << 2 // read/write
	staTMOE     = 1 << 3 // clock-low timeout
	staArbLost  = 1 << 4 // arbitration lost
	staBusBusy  = 1 << 5 // bus busy
	staAddrMat  = 1 << 6 // address match
	staByteDone = 1 << 7 // byte done

	staAnyError       = staTMOE | staArbLost
	staByteDoneAndAck = staByteDone | staAck
)

// Other enhanced register bits.
const (
	dhtrSoftRst  = 1 << 7 // software reset strobe
	ctr1ModuleEn = 1 << 1 // enhanced module enable
	tosSDAIn     = 1 << 0 // SDA line level
	tosSCLIn     = 1 << 2 // SCL line level
)

// Line level summary, variant independent.
const (
	lineSCLHigh = 1 << 0
	lineSDAHigh = 1 << 1
	lineIdle    = lineSCLHigh | lineSDAHigh
)

// Register value for the clock/data low timeout of roughly 25 ms.
const clkLowTimeout = 0xff

package dfu

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/librescoot/dfu-tool/pkg/apl"
)

const (
	defaultProbeTimeout = 2 * time.Second
	probeTimeoutMs      = uint16(2000)
	defaultTimeoutMs    = uint16(5000)

	// bootloaderGraceSleep is the fixed pause after sending a reboot
	// command before re-probing, per the component design's auto-enter
	// sequence.
	bootloaderGraceSleep = 1 * time.Second
)

// Engine drives a single device through the update state machine described
// by Config's stage selectors, over one Transport.
type Engine struct {
	transport Transport
	cfg       *Config
	parser    HexParser
	logger    Logger
	progress  ProgressReporter

	sessionID uint8
	link      *transportLink
	session   *apl.Session

	info        InfoBlockV2
	firmware    []byte
	firmwareCRC uint32

	sleep        func(time.Duration)
	probeTimeout time.Duration
}

// NewEngine constructs an Engine over transport. logger and progress may be
// nil, in which case a standard logger and a no-op reporter are used.
func NewEngine(transport Transport, cfg *Config, parser HexParser, logger Logger, progress ProgressReporter) *Engine {
	if logger == nil {
		logger = NewStdLogger()
	}
	if progress == nil {
		progress = NoopProgressReporter{}
	}

	e := &Engine{
		transport: transport,
		cfg:       cfg,
		parser:    parser,
		logger:    logger,
		progress:  progress,
		sleep:     time.Sleep,

		probeTimeout: defaultProbeTimeout,
	}
	e.link = newTransportLink(transport)
	e.session = apl.NewSession(e.sessionID, e.link, e.reconnect)
	return e
}

// reconnect rebuilds the LPL read loop over the same transport. Physically
// reopening the transport (redialing a socket, reopening a serial device)
// is the caller's concern; what the session needs here is a fresh decoder
// state so a corrupted frame mid-retry doesn't wedge the link permanently.
func (e *Engine) reconnect(ctx context.Context) (apl.Link, error) {
	e.link.Close()
	e.link = newTransportLink(e.transport)
	return e.link, nil
}

// Update runs the full state machine: Idle -> EnteringBootloader ->
// Identifying -> ReadingInfo -> Decision -> Writing/Verifying/Quitting ->
// RestoringSpeed -> Done, gated by Config's boolean stage selectors.
func (e *Engine) Update(ctx context.Context) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	e.progress.Stage(StateIdle)

	if e.cfg.UpdateMode != UpdateModeNone {
		if err := e.autoEnter(ctx); err != nil {
			return err
		}
	}

	e.progress.Stage(StateIdentifying)
	e.progress.Stage(StateReadingInfo)
	if err := e.readInfo(ctx); err != nil {
		return err
	}

	e.progress.Stage(StateDecision)

	if e.cfg.Update {
		e.progress.Stage(StateWriting)
		if err := e.writeFirmware(ctx); err != nil {
			return err
		}
	}
	if e.cfg.Verify {
		e.progress.Stage(StateVerifying)
		if err := e.verifyFirmware(ctx); err != nil {
			return err
		}
	}
	if e.cfg.Quit {
		e.progress.Stage(StateQuitting)
		if err := e.quitBootloader(ctx); err != nil {
			return err
		}
	}

	if e.cfg.UpdateMode != UpdateModeNone {
		e.progress.Stage(StateRestoringSpeed)
		if err := e.autoExit(ctx); err != nil {
			return err
		}
	}

	e.progress.Stage(StateDone)
	return nil
}

// Info returns the InfoBlockV2 read during this session. Valid only after
// Update (or readInfo, via ReadDeviceInfo) has completed successfully.
func (e *Engine) Info() InfoBlockV2 { return e.info }

func (e *Engine) autoEnter(ctx context.Context) error {
	if e.cfg.UpdateMode == UpdateModeDirect {
		if err := e.transport.SetSpeed(e.cfg.LinkSpeed); err != nil {
			return wrapErr(KindConnection, err, "failed to set link speed")
		}
	}
	e.progress.Stage(StateEnteringBootloader)

	probeErr := e.probeBootloader(ctx)
	if probeErr == nil {
		return nil
	}
	e.logger.Printf("bootloader probe failed: %v", probeErr)

	if e.cfg.RebootCommand != nil {
		if err := e.cfg.RebootCommand(ctx); err != nil {
			e.logger.Printf("reboot command failed: %v", err)
		}
	}
	e.sleep(bootloaderGraceSleep)

	if err := e.probeBootloader(ctx); err != nil {
		return wrapErr(KindBootloaderNotDetected, err, "bootloader did not respond after reboot")
	}
	return nil
}

func (e *Engine) probeBootloader(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	_, err := e.request(probeCtx, apl.ReadRequest, ReadBootloaderInfo, 0, uint32(InfoBlockV2Size), probeTimeoutMs)
	return err
}

func (e *Engine) readInfo(ctx context.Context) error {
	pkt, err := e.request(ctx, apl.ReadRequest, ReadBootloaderInfo, 0, uint32(InfoBlockV2Size), defaultTimeoutMs)
	if err != nil {
		return err
	}
	if pkt.Type != apl.Data {
		return newErr(KindProtocol, "expected Data response to ReadBootloaderInfo, got %s", pkt.Type)
	}
	info, err := ParseInfoBlockV2(pkt.Data)
	if err != nil {
		return err
	}
	e.info = info
	e.logger.Printf("device info: version=0x%02x max_block_size=%d id=0x%04x rev=0x%04x", info.Version, info.MaxBlockSize, info.Device.ID, info.Device.Rev)
	return nil
}

func (e *Engine) readProgramCrc(ctx context.Context) (uint32, error) {
	pkt, err := e.request(ctx, apl.ReadRequest, ReadProgramCrc, e.info.MemMap.FirmwareAddr, e.info.MemMap.FirmwareSize, defaultTimeoutMs)
	if err != nil {
		return 0, err
	}
	if pkt.Type != apl.Data || len(pkt.Data) < 4 {
		return 0, newErr(KindProtocol, "expected 4-byte Data response to ReadProgramCrc")
	}
	return binary.LittleEndian.Uint32(pkt.Data[:4]), nil
}

// sessionBlockSize is the write/read block size actually used on the wire,
// clamped by the device's own limit.
func (e *Engine) sessionBlockSize() uint16 {
	if e.info.MaxBlockSize != 0 && e.info.MaxBlockSize < e.cfg.BlockSize {
		return e.info.MaxBlockSize
	}
	return e.cfg.BlockSize
}

func (e *Engine) loadFirmware() ([]byte, error) {
	if e.cfg.Filename == "" {
		return nil, newErr(KindNoFirmwareFile, "no firmware file configured")
	}
	records, err := e.parser.Parse(e.cfg.Filename)
	if err != nil {
		return nil, wrapErr(KindHexFileError, err, "failed to parse %s", e.cfg.Filename)
	}

	maxSize := e.cfg.MaxFirmwareSize
	buf := bytes.Repeat([]byte{e.cfg.GapFilling}, int(maxSize))
	for _, rec := range records {
		end := uint64(rec.Offset) + uint64(len(rec.Data))
		if end > uint64(maxSize) {
			return nil, newErr(KindFirmwareTooLarge, "record at offset 0x%x length %d overruns load buffer of size %d", rec.Offset, len(rec.Data), maxSize)
		}
		copy(buf[rec.Offset:], rec.Data)
	}
	return buf, nil
}

func (e *Engine) writeFirmware(ctx context.Context) error {
	firmware, err := e.loadFirmware()
	if err != nil {
		return err
	}
	if uint32(len(firmware)) > e.info.MemMap.FirmwareSize {
		return newErr(KindFirmwareTooLarge, "firmware image of %d bytes exceeds device firmware region of %d bytes", len(firmware), e.info.MemMap.FirmwareSize)
	}

	if e.info.Version >= 0x30 && !e.cfg.Overwrite {
		if !bytes.Contains(firmware, e.info.Device.UID[:]) {
			return newErr(KindInvalidDeviceId, "firmware image does not contain this device's id")
		}
	}

	newCRC := crc32ISOHDLC(firmware)

	currentCRC, err := e.readProgramCrc(ctx)
	if err != nil {
		return err
	}

	e.firmware = firmware
	e.firmwareCRC = newCRC

	if currentCRC == newCRC && !e.cfg.Overwrite {
		e.logger.Printf("firmware already up to date (crc 0x%08x), skipping write", newCRC)
		e.progress.Progress(100)
		return nil
	}

	blockSize := int(e.sessionBlockSize())
	if blockSize == 0 {
		return newErr(KindConfiguration, "block size is zero")
	}
	total := (len(firmware) + blockSize - 1) / blockSize

	for i := 0; i < total; i++ {
		start := i * blockSize
		end := start + blockSize
		if end > len(firmware) {
			end = len(firmware)
		}
		chunk := firmware[start:end]
		addr := e.info.MemMap.FirmwareAddr + uint32(start)

		if _, err := e.request(ctx, apl.WriteRequest, WriteProgramMemory, addr, uint32(len(chunk)), defaultTimeoutMs); err != nil {
			return err
		}
		if _, err := e.sendData(ctx, chunk); err != nil {
			return err
		}
		e.progress.Progress((i + 1) * 100 / total)
	}
	return nil
}

func (e *Engine) verifyFirmware(ctx context.Context) error {
	if e.firmware == nil {
		firmware, err := e.loadFirmware()
		if err != nil {
			return err
		}
		e.firmware = firmware
		e.firmwareCRC = crc32ISOHDLC(firmware)
	}

	currentCRC, err := e.readProgramCrc(ctx)
	if err != nil {
		return err
	}
	if currentCRC != e.firmwareCRC {
		return newErr(KindVerificationFailed, "device reports crc 0x%08x, image crc is 0x%08x", currentCRC, e.firmwareCRC)
	}
	return nil
}

func (e *Engine) quitBootloader(ctx context.Context) error {
	_, err := e.request(ctx, apl.WriteRequest, BootloaderQuit, 0, 0, defaultTimeoutMs)
	return err
}

func (e *Engine) autoExit(ctx context.Context) error {
	if e.cfg.UpdateMode == UpdateModeDirect {
		if err := e.transport.SetSpeed(e.cfg.LinkSpeed); err != nil {
			return wrapErr(KindConnection, err, "failed to restore link speed")
		}
	}
	return nil
}

// request issues a Request packet. The session owns the block number: it is
// filled in by SendAndAwait at send (and resend) time and advances on
// success.
func (e *Engine) request(ctx context.Context, typ apl.PacketType, command Command, offset, length uint32, timeoutMs uint16) (apl.Packet, error) {
	resp, err := e.session.SendAndAwait(ctx, func(bn uint16) []byte {
		return apl.EncodeRequest(typ, e.sessionID, bn, e.sessionBlockSize(), timeoutMs, uint8(command), offset, length)
	})
	if err != nil {
		return apl.Packet{}, classifyAPLErr(err)
	}
	return resp, nil
}

// sendData sends a Data packet (the payload half of a write).
func (e *Engine) sendData(ctx context.Context, payload []byte) (apl.Packet, error) {
	resp, err := e.session.SendAndAwait(ctx, func(bn uint16) []byte {
		return apl.EncodeData(e.sessionID, bn, payload)
	})
	if err != nil {
		return apl.Packet{}, classifyAPLErr(err)
	}
	return resp, nil
}

// classifyAPLErr maps an apl-layer failure onto the dfu error taxonomy so
// callers can switch on Kind without reaching into the apl package.
func classifyAPLErr(err error) *Error {
	var invalid *apl.ErrInvalidPacket
	if errors.As(err, &invalid) {
		return wrapErr(KindInvalidPacket, err, "invalid packet type 0x%02x", invalid.TypeByte)
	}
	var remote *apl.RemoteError
	if errors.As(err, &remote) {
		return wrapErr(KindProtocol, err, "device returned error %d: %s", remote.Code, remote.Message)
	}
	if errors.Is(err, apl.ErrReconnectsExhausted) {
		return wrapErr(KindConnection, err, "link reconnects exhausted")
	}
	if errors.Is(err, apl.ErrRetriesExhausted) {
		return wrapErr(KindTimeout, err, "request retries exhausted")
	}
	if deadline, ok := err.(interface{ Timeout() bool }); ok && deadline.Timeout() {
		return wrapErr(KindTimeout, err, "request timed out")
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return wrapErr(KindProtocol, err, "protocol error")
}

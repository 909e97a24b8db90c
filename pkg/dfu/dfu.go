package dfu

import "context"

// UpdateFirmware runs a full update session over transport using cfg,
// matching the Rust original's top-level update_firmware entry point. It is
// a thin convenience wrapper around NewEngine(...).Update(ctx) for callers
// that don't need to keep the Engine around afterward.
func UpdateFirmware(ctx context.Context, transport Transport, cfg *Config, parser HexParser, logger Logger, progress ProgressReporter) error {
	return NewEngine(transport, cfg, parser, logger, progress).Update(ctx)
}

// ReadDeviceInfo enters bootloader mode (if mode is not UpdateModeNone),
// reads the info block, runs autoExit (which only restores the transport
// speed; no BootloaderQuit is sent, so the device stays in the bootloader),
// and returns it, without touching firmware. It matches the Rust original's
// read_device_info entry point.
func ReadDeviceInfo(ctx context.Context, transport Transport, mode UpdateMode, logger Logger) (InfoBlockV2, error) {
	cfg := NewConfig().WithUpdateMode(mode).WithGetInfo(true)

	engine := NewEngine(transport, cfg, nil, logger, nil)
	if mode != UpdateModeNone {
		if err := engine.autoEnter(ctx); err != nil {
			return InfoBlockV2{}, err
		}
	}
	if err := engine.readInfo(ctx); err != nil {
		return InfoBlockV2{}, err
	}
	if mode != UpdateModeNone {
		if err := engine.autoExit(ctx); err != nil {
			return InfoBlockV2{}, err
		}
	}
	return engine.info, nil
}

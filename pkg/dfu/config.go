package dfu

// Config is the full configuration surface the engine recognizes. Only
// these fields affect behavior; everything else about the transport (how
// the URI resolves to a connection) is the caller's concern.
type Config struct {
	URI      string
	Filename string

	BlockSize uint16

	GetInfo   bool
	Update    bool
	Verify    bool
	Overwrite bool
	Quit      bool

	DevNetID  string
	DevSpeed  int
	UpdSpeed  int
	LinkSpeed int

	UpdateMode UpdateMode

	GapFilling byte

	// MaxFirmwareSize bounds the buffer the HEX parser's records are loaded
	// into, independent of the device's own reported firmware region size
	// (info.memmap.firmware_size). A HEX record overrunning this buffer is
	// FirmwareTooLarge; a loaded image overrunning the device's firmware
	// region is the same error, raised separately once device info is known.
	MaxFirmwareSize uint32

	// RebootCommand is invoked by autoEnter if the initial bootloader
	// probe fails, before the grace sleep and re-probe. May be nil.
	RebootCommand RebootCommand
}

// NewConfig returns a Config populated with the same defaults the original
// builder used: a 1024-byte block size, 9600 baud for both the device's
// native speed and the link speed, 115200 for the update speed, and 0xFF
// for gap fill.
func NewConfig() *Config {
	return &Config{
		BlockSize:       1024,
		DevSpeed:        9600,
		UpdSpeed:        115200,
		LinkSpeed:       9600,
		GapFilling:      0xFF,
		MaxFirmwareSize: 1 << 20,
	}
}

func (c *Config) WithURI(uri string) *Config {
	c.URI = uri
	return c
}

func (c *Config) WithFirmware(filename string) *Config {
	c.Filename = filename
	return c
}

func (c *Config) WithBlockSize(size uint16) *Config {
	c.BlockSize = size
	return c
}

func (c *Config) WithDevNetID(id string) *Config {
	c.DevNetID = id
	return c
}

func (c *Config) WithDevSpeed(baud int) *Config {
	c.DevSpeed = baud
	return c
}

func (c *Config) WithUpdSpeed(baud int) *Config {
	c.UpdSpeed = baud
	return c
}

func (c *Config) WithLinkSpeed(baud int) *Config {
	c.LinkSpeed = baud
	return c
}

func (c *Config) WithUpdateMode(mode UpdateMode) *Config {
	c.UpdateMode = mode
	return c
}

func (c *Config) WithGapFilling(b byte) *Config {
	c.GapFilling = b
	return c
}

func (c *Config) WithMaxFirmwareSize(size uint32) *Config {
	c.MaxFirmwareSize = size
	return c
}

func (c *Config) WithRebootCommand(cmd RebootCommand) *Config {
	c.RebootCommand = cmd
	return c
}

func (c *Config) WithGetInfo(v bool) *Config   { c.GetInfo = v; return c }
func (c *Config) WithUpdate(v bool) *Config    { c.Update = v; return c }
func (c *Config) WithVerify(v bool) *Config    { c.Verify = v; return c }
func (c *Config) WithOverwrite(v bool) *Config { c.Overwrite = v; return c }
func (c *Config) WithQuit(v bool) *Config      { c.Quit = v; return c }

// Validate checks the configuration surface named in the component design:
// uri must be set, and a firmware filename is required whenever update or
// verify is requested.
func (c *Config) Validate() error {
	if c.URI == "" {
		return newErr(KindConfiguration, "uri is required")
	}
	if (c.Update || c.Verify) && c.Filename == "" {
		return newErr(KindConfiguration, "filename is required when update or verify is set")
	}
	if (c.Update || c.Verify) && c.MaxFirmwareSize == 0 {
		return newErr(KindConfiguration, "max firmware size must be nonzero")
	}
	return nil
}

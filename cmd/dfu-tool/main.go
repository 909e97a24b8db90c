package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/librescoot/dfu-tool/pkg/dfu"
	"github.com/librescoot/dfu-tool/pkg/ihex"
	"github.com/librescoot/dfu-tool/pkg/redis"
	"github.com/librescoot/dfu-tool/pkg/statusmirror"
	"github.com/librescoot/dfu-tool/pkg/transport"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dfu-tool",
		Short: "Flash and inspect device firmware over a serial or TCP bootloader link",
	}

	root.PersistentFlags().String("uri", "", "device uri (serial:///dev/ttyUSB0 or tcp://host:port)")
	root.PersistentFlags().Int("dev-speed", 9600, "baud rate the device starts at")
	root.PersistentFlags().Int("upd-speed", 115200, "update baud rate (stored in the config; no stage switches the transport to it)")
	root.PersistentFlags().Int("link-speed", 9600, "baud rate the transport is set to on entering and leaving the bootloader in direct mode")
	root.PersistentFlags().String("mode", "direct", "update mode: none, direct, or link")
	root.PersistentFlags().Int("block-size", 1024, "requested write block size")
	root.PersistentFlags().Int("max-firmware-size", 1<<20, "size of the buffer firmware is loaded into before the device's own region size is known")
	root.PersistentFlags().String("redis-addr", "", "mirror progress to this Redis server (host:port); empty disables mirroring")
	root.PersistentFlags().String("redis-pass", "", "Redis password")
	root.PersistentFlags().Int("redis-db", 0, "Redis database number")
	root.PersistentFlags().String("device-id", "", "device identifier used as the Redis mirror key; defaults to --uri")

	viper.BindPFlags(root.PersistentFlags())
	viper.SetEnvPrefix("DFU")
	viper.AutomaticEnv()

	root.AddCommand(newGetInfoCmd())
	root.AddCommand(newUpdateCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newQuitCmd())
	root.AddCommand(newServeCmd())

	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func baseConfig() *dfu.Config {
	mode := dfu.UpdateModeDirect
	switch viper.GetString("mode") {
	case "none":
		mode = dfu.UpdateModeNone
	case "link":
		mode = dfu.UpdateModeLink
	}

	return dfu.NewConfig().
		WithURI(viper.GetString("uri")).
		WithDevSpeed(viper.GetInt("dev-speed")).
		WithUpdSpeed(viper.GetInt("upd-speed")).
		WithLinkSpeed(viper.GetInt("link-speed")).
		WithUpdateMode(mode).
		WithBlockSize(uint16(viper.GetInt("block-size"))).
		WithMaxFirmwareSize(uint32(viper.GetInt("max-firmware-size")))
}

func deviceID(cfg *dfu.Config) string {
	if id := viper.GetString("device-id"); id != "" {
		return id
	}
	return cfg.URI
}

// openMirror connects to Redis if --redis-addr was given, returning a nil
// mirror, a no-op cleanup func and a nil error otherwise so callers can
// treat "no mirroring" uniformly.
func openMirror(cfg *dfu.Config) (*statusmirror.Mirror, func(), error) {
	addr := viper.GetString("redis-addr")
	if addr == "" {
		return nil, func() {}, nil
	}
	client, err := redis.New(addr, viper.GetString("redis-pass"), viper.GetInt("redis-db"))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	mirror := statusmirror.New(client, deviceID(cfg))
	return mirror, func() { client.Close() }, nil
}

func openTransport(ctx context.Context, cfg *dfu.Config) (dfu.Transport, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("--uri is required")
	}
	return transport.Open(ctx, cfg.URI, cfg.DevSpeed)
}

func newGetInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-info",
		Short: "Enter the bootloader and print the device's identity and memory map",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg := baseConfig()
			t, err := openTransport(ctx, cfg)
			if err != nil {
				return err
			}

			logger := dfu.NewStdLogger()
			info, err := dfu.ReadDeviceInfo(ctx, t, cfg.UpdateMode, logger)
			if err != nil {
				return err
			}

			fmt.Printf("version:         0x%02x\n", info.Version)
			fmt.Printf("max block size:  %d\n", info.MaxBlockSize)
			fmt.Printf("device id:       0x%04x rev 0x%04x\n", info.Device.ID, info.Device.Rev)
			fmt.Printf("device uid:      %x\n", info.Device.UID)
			fmt.Printf("firmware region: addr 0x%08x size %d\n", info.MemMap.FirmwareAddr, info.MemMap.FirmwareSize)
			fmt.Printf("flash region:    addr 0x%08x size %d, write block %d\n", info.MemMap.FlashAddr, info.MemMap.FlashSize, info.MemMap.FlashWriteBlockSize)
			return nil
		},
	}
}

func runEngine(cmd *cobra.Command, firmware string, update, verify, overwrite, quit bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := baseConfig().
		WithFirmware(firmware).
		WithUpdate(update).
		WithVerify(verify).
		WithOverwrite(overwrite).
		WithQuit(quit)

	if err := cfg.Validate(); err != nil {
		return err
	}

	t, err := openTransport(ctx, cfg)
	if err != nil {
		return err
	}

	logger := dfu.NewStdLogger()
	var progress dfu.ProgressReporter = dfu.NoopProgressReporter{}

	mirror, closeMirror, err := openMirror(cfg)
	if err != nil {
		return err
	}
	defer closeMirror()
	if mirror != nil {
		logger = multiLogger{a: logger, b: mirror}
		progress = mirror
	}

	err = dfu.UpdateFirmware(ctx, t, cfg, ihex.NewReader(), logger, progress)
	if mirror != nil {
		mirror.Done(err)
	}
	return err
}

func newUpdateCmd() *cobra.Command {
	var firmware string
	var overwrite bool
	var verify bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Write a firmware image to the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd, firmware, true, verify, overwrite, true)
		},
	}
	cmd.Flags().StringVar(&firmware, "firmware", "", "path to the Intel HEX firmware image")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "write even if the device already reports a matching crc")
	cmd.Flags().BoolVar(&verify, "verify", true, "verify the crc after writing")
	cmd.MarkFlagRequired("firmware")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var firmware string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the device's program memory crc against a firmware image without writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd, firmware, false, true, false, false)
		},
	}
	cmd.Flags().StringVar(&firmware, "firmware", "", "path to the Intel HEX firmware image")
	cmd.MarkFlagRequired("firmware")
	return cmd
}

func newQuitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Tell the bootloader to quit and boot the application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd, "", false, false, false, true)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Drain queued update jobs from Redis and run them as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			addr := viper.GetString("redis-addr")
			if addr == "" {
				return fmt.Errorf("--redis-addr is required for serve")
			}
			client, err := redis.New(addr, viper.GetString("redis-pass"), viper.GetInt("redis-db"))
			if err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}
			defer client.Close()

			queue := statusmirror.New(client, "serve")
			logger := dfu.NewStdLogger()
			logger.Printf("waiting for queued update jobs on redis %s", addr)

			for job := range queue.Drain(ctx) {
				logger.Printf("starting queued job for device %s (%s)", job.DeviceID, job.URI)
				if err := runJob(ctx, client, job); err != nil {
					logger.Printf("job for device %s failed: %v", job.DeviceID, err)
				}
			}
			return nil
		},
	}
}

func runJob(ctx context.Context, client *redis.Client, job statusmirror.Job) error {
	cfg := dfu.NewConfig().
		WithURI(job.URI).
		WithFirmware(job.Firmware).
		WithUpdate(true).
		WithVerify(job.Verify).
		WithOverwrite(job.Overwrite).
		WithQuit(true)

	t, err := transport.Open(ctx, cfg.URI, cfg.DevSpeed)
	if err != nil {
		return err
	}

	mirror := statusmirror.New(client, job.DeviceID)
	logger := dfu.NewStdLogger()
	err = dfu.UpdateFirmware(ctx, t, cfg, ihex.NewReader(), multiLogger{a: logger, b: mirror}, mirror)
	mirror.Done(err)
	return err
}

// multiLogger fans a log line out to two sinks: the process's own stderr
// log and a status mirror, so a queued run is both locally observable and
// remotely visible.
type multiLogger struct {
	a, b dfu.Logger
}

func (m multiLogger) Printf(format string, args ...interface{}) {
	m.a.Printf(format, args...)
	m.b.Printf(format, args...)
}

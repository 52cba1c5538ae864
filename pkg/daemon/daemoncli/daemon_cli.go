// Package daemoncli is the command line interface of hidhostd.
package daemoncli

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jochenvg/go-udev"
	"github.com/neuroplastio/hidhost/pkg/daemon"
	"github.com/neuroplastio/hidhost/pkg/hidhost"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "hidhost"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

func NewRootCmd(configDir string) *cobra.Command {
	cfg := daemon.Config{
		DataDir:       filepath.Join(configDir, "data"),
		VirtualConfig: filepath.Join(configDir, "virtual.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "hidhostd",
		Short: "HID host access daemon",
		Long:  `hidhostd discovers HID devices attached to the host and provides report-level access to them.`,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.VirtualConfig, "virtual-config", cfg.VirtualConfig, "virtual device config file")

	rootCmd.AddCommand(newRun(&cfg))
	rootCmd.AddCommand(newList())
	rootCmd.AddCommand(newDescriptor())
	rootCmd.AddCommand(newRead())
	rootCmd.AddCommand(newWrite())
	rootCmd.AddCommand(newGetString())
	return rootCmd
}

func newRun(cfg *daemon.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the HID host daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := daemon.New(*cfg)
			if err != nil {
				return err
			}
			return d.Run(cmd.Context())
		},
	}
}

func newList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List HID devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := &udev.Udev{}
			records, err := hidhost.Enumerate(u)
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func newDescriptor() *cobra.Command {
	return &cobra.Command{
		Use:   "descriptor <device>",
		Short: "Dump the report descriptor of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := findRecord(args[0])
			if err != nil {
				return err
			}
			if rec.ReportDescriptor == nil {
				return errors.New("device does not expose a report descriptor")
			}
			fmt.Fprint(cmd.OutOrStdout(), hex.Dump(rec.ReportDescriptor))
			return nil
		},
	}
}

func newRead() *cobra.Command {
	var (
		timeout time.Duration
		count   int
	)
	cmd := &cobra.Command{
		Use:   "read <device>",
		Short: "Read input reports from a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := findRecord(args[0])
			if err != nil {
				return err
			}
			stream, err := rec.Open(hidhost.StreamConfig{})
			if err != nil {
				return err
			}
			defer stream.Close()

			buf := make([]byte, rec.MaxInputLen)
			for i := 0; count <= 0 || i < count; i++ {
				if err := cmd.Context().Err(); err != nil {
					return nil
				}
				n, err := stream.Read(buf, timeout)
				if errors.Is(err, hidhost.ErrTimeout) {
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", hex.EncodeToString(buf[:n]))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Second, "per-read timeout")
	cmd.Flags().IntVar(&count, "count", 0, "number of reports to read (0 = forever)")
	return cmd
}

func newWrite() *cobra.Command {
	return &cobra.Command{
		Use:   "write <device> <hex-report>",
		Short: "Write an output report, first byte is the report ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("malformed report hex: %w", err)
			}
			rec, err := findRecord(args[0])
			if err != nil {
				return err
			}
			if rec.MaxOutputLen == 0 {
				return errors.New("device has no output reports")
			}
			if len(report) > rec.MaxOutputLen {
				return fmt.Errorf("report is %d bytes, device maximum is %d", len(report), rec.MaxOutputLen)
			}
			stream, err := rec.Open(hidhost.StreamConfig{})
			if err != nil {
				return err
			}
			defer stream.Close()
			return stream.Write(report)
		},
	}
}

func newGetString() *cobra.Command {
	return &cobra.Command{
		Use:   "get-string <device> <index>",
		Short: "Fetch a USB string descriptor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var index uint8
			if _, err := fmt.Sscanf(args[1], "%d", &index); err != nil {
				return fmt.Errorf("malformed string index: %w", err)
			}
			rec, err := findRecord(args[0])
			if err != nil {
				return err
			}
			value, err := rec.FetchString(index)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

// findRecord matches a CLI device argument against the device node path,
// its base name, or the registry path.
func findRecord(arg string) (*hidhost.DeviceRecord, error) {
	u := &udev.Udev{}
	records, err := hidhost.Enumerate(u)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Path == arg || filepath.Base(rec.Path) == arg || rec.Syspath == arg {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", arg)
}

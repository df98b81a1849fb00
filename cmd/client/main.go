// Command client drives one UPLOAD or DOWNLOAD transfer against a
// server command instance.
//
// Grounded on the teacher's cmd/cli-client/main.go flag surface
// (host/port/path) generalized into cobra subcommands the way
// telepresence structures its CLI, with the protocol/window/timeout
// flags SPEC_FULL.md's client needs.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"udpft/internal/client"
	"udpft/internal/config"
	"udpft/internal/logging"
	"udpft/pkg/wire"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "client",
		Short: "Upload or download a file over the reliable UDP transfer protocol",
	}
	root.AddCommand(newUploadCommand(), newDownloadCommand())
	return root
}

type transferFlags struct {
	protocol string
	window   int
	timeout  time.Duration
	verbose  bool
}

func (f *transferFlags) register(flags flagSetter) {
	flags.StringVar(&f.protocol, "protocol", "stop_and_wait", "stop_and_wait or selective_repeat")
	flags.IntVar(&f.window, "window", config.DefaultWindowSize, "selective repeat window size")
	flags.DurationVar(&f.timeout, "timeout", 0, "per-packet retransmit timeout (defaults per protocol)")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
}

// flagSetter narrows *pflag.FlagSet to the handful of setters used
// above, so transferFlags.register doesn't need to import pflag itself.
type flagSetter interface {
	StringVar(p *string, name, value, usage string)
	IntVar(p *int, name string, value int, usage string)
	DurationVar(p *time.Duration, name string, value time.Duration, usage string)
	BoolVarP(p *bool, name, shorthand string, value bool, usage string)
}

func newUploadCommand() *cobra.Command {
	var tf transferFlags
	cmd := &cobra.Command{
		Use:   "upload <host:port>/<remote-name> <local-path>",
		Short: "Upload a local file to the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetVerbose(tf.verbose)
			host, port, remote, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			proto, err := parseProtocol(tf.protocol)
			if err != nil {
				return err
			}

			d, err := client.Dial(config.ClientConfig{Host: host, Port: port, Timeout: tf.timeout, WindowSize: tf.window})
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Upload(args[1], remote, proto); err != nil {
				return err
			}
			fmt.Printf("uploaded %s -> %s:%d/%s\n", args[1], host, port, remote)
			return nil
		},
	}
	tf.register(cmd.Flags())
	return cmd
}

func newDownloadCommand() *cobra.Command {
	var tf transferFlags
	cmd := &cobra.Command{
		Use:   "download <host:port>/<remote-name> [local-path]",
		Short: "Download a remote file from the server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetVerbose(tf.verbose)
			host, port, remote, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			proto, err := parseProtocol(tf.protocol)
			if err != nil {
				return err
			}
			localPath := ""
			if len(args) == 2 {
				localPath = args[1]
			}

			d, err := client.Dial(config.ClientConfig{Host: host, Port: port, Timeout: tf.timeout, WindowSize: tf.window})
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Download(remote, localPath, proto); err != nil {
				return err
			}
			fmt.Printf("downloaded %s:%d/%s -> %s\n", host, port, remote, localPath)
			return nil
		},
	}
	tf.register(cmd.Flags())
	return cmd
}

// parseTarget splits "<host:port>/<remote-name>" into its pieces.
func parseTarget(target string) (host string, port int, remote string, err error) {
	host, port, remote, err = wire.ParseTarget(target)
	if err != nil {
		return "", 0, "", err
	}
	if err := config.ValidatePort(port); err != nil {
		return "", 0, "", err
	}
	return host, port, remote, nil
}

func parseProtocol(s string) (wire.Protocol, error) {
	if err := config.ValidateProtocol(s); err != nil {
		return "", err
	}
	switch s {
	case "", "stop_and_wait":
		return wire.StopAndWait, nil
	case "selective_repeat":
		return wire.SelectiveRepeat, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", s)
	}
}

// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package main

import (
	"io"
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/config"
	"nvmesntl/pkg/journal"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/passthru"
	"nvmesntl/pkg/scsi"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	CommandInquiry            = "inquiry"
	CommandReadCapacity       = "readcap"
	CommandReportLuns         = "luns"
	CommandTestUnitReady      = "tur"
	CommandRequestSense       = "requestsense"
	CommandModeSense          = "modesense"
	CommandModeSelectOverride = "modeselect-override"
	CommandRead               = "read"
	CommandWrite              = "write"
	CommandVerify             = "verify"
	CommandSynchronizeCache   = "sync"
	CommandWriteSame          = "writesame"
	CommandStartStop          = "startstop"
	CommandSendDiagnostic     = "senddiag"
	CommandReceiveDiagnostic  = "recvdiag"
	CommandOpcodes            = "opcodes"
	CommandTaskManagement     = "tmfs"
	CommandNvmeIdentify       = "nvme-identify"
	CommandClassify           = "classify"
	CommandJournal            = "journal"
)

type clientOptions struct {
	configPath  string
	verbose     int
	hexOutput   bool
	timeout     int
	denseSense  bool
	readOnly    bool
	override    string
	journalPath string
}

// Client is the command line front end. Every invocation loads the
// configuration, opens the device named on the command line through a
// registry and closes everything on return.
type Client struct {
	root     *cobra.Command
	options  clientOptions
	config   *config.Config
	registry *passthru.Registry
	journal  *journal.Journal
}

// exitError carries the category the process exits with.
type exitError struct {
	category scsi.Category
	err      error
}

func (err *exitError) Error() string {
	return err.err.Error()
}

func (err *exitError) Unwrap() error {
	return err.err
}

func syntaxError(err error) error {
	return &exitError{category: scsi.CategorySyntaxError, err: err}
}

func fileError(err error) error {
	return &exitError{category: scsi.CategoryFileError, err: err}
}

func malformedError(format string, args ...any) error {
	return &exitError{category: scsi.CategoryMalformed, err: errors.Errorf(format, args...)}
}

// errorCategory maps a failure to the exit status. Errors nobody
// classified come from argument handling.
func errorCategory(err error) scsi.Category {
	if err == nil {
		return scsi.CategoryClean
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.category
	}
	var errno syscall.Errno
	switch {
	case errors.Is(err, common.ErrBadParams):
		return scsi.CategorySyntaxError
	case errors.Is(err, common.ErrTimeout):
		return scsi.CategoryTimeout
	case errors.As(err, &errno):
		if category := scsi.CategoryOsBase + scsi.Category(errno); category < scsi.CategoryMalformed {
			return category
		}
		return scsi.CategoryOther
	case errors.Is(err, common.ErrTooManyDevices),
		errors.Is(err, common.ErrNotSupported),
		errors.Is(err, common.ErrUnknownHandle):
		return scsi.CategoryOther
	}
	return scsi.CategorySyntaxError
}

func NewClient(out, errOut io.Writer) *Client {
	client := &Client{}
	client.root = &cobra.Command{
		Use:   "nvmesntl",
		Short: "SCSI pass-through with translation for NVMe devices",
		Long: "nvmesntl sends SCSI commands to SCSI devices unmodified and translates\n" +
			"them into NVMe commands for NVMe devices.\n\n" +
			"DEVICE is /dev/sgN, /dev/sdX, /dev/bsg/..., /dev/nvmeN, /dev/nvmeNnM,\n" +
			"sim: (simulated controller) or sim:N (simulated namespace N).\n" +
			"The exit status is the sense category of the last command.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	client.root.SetOut(out)
	client.root.SetErr(errOut)
	client.root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return syntaxError(err)
	})

	flags := client.root.PersistentFlags()
	flags.StringVarP(&client.options.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/nvmesntl/config.yaml)")
	flags.CountVarP(&client.options.verbose, "verbose", "v", "log more, repeat for debug output")
	flags.BoolVarP(&client.options.hexOutput, "hex", "H", false, "print responses as hex dumps")
	flags.IntVarP(&client.options.timeout, "timeout", "t", 0, "command timeout in seconds")
	flags.BoolVar(&client.options.denseSense, "dense-sense", false, "descriptor format sense for NVMe devices")
	flags.BoolVar(&client.options.readOnly, "read-only", false, "open the device node read-only")
	flags.StringVar(&client.options.override, "override", "", "enclosure override: none, ses, disk-with-ses, safte, normal-disk")
	flags.StringVar(&client.options.journalPath, "journal", "", "record executed commands in this sqlite file")

	addInquiryCli(client)
	addReadCapacityCli(client)
	addReportLunsCli(client)
	addTestUnitReadyCli(client)
	addRequestSenseCli(client)
	addModeSenseCli(client)
	addModeSelectOverrideCli(client)
	addReadCli(client)
	addWriteCli(client)
	addVerifyCli(client)
	addSynchronizeCacheCli(client)
	addWriteSameCli(client)
	addStartStopCli(client)
	addSendDiagnosticCli(client)
	addReceiveDiagnosticCli(client)
	addOpcodesCli(client)
	addTaskManagementCli(client)
	addNvmeIdentifyCli(client)
	addClassifyCli(client)
	addJournalCli(client)
	return client
}

func (client *Client) Execute(args []string) error {
	client.root.SetArgs(args)
	return client.root.Execute()
}

func deviceArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return syntaxError(err)
	}
	return nil
}

// addDeviceCommand registers a subcommand taking one DEVICE argument.
func (client *Client) addDeviceCommand(name, short string, perform func(device *passthru.Device) error) *cobra.Command {
	command := &cobra.Command{
		Use:   name + " DEVICE",
		Short: short,
		Args:  deviceArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.withDevice(cmd, args[0], perform)
		},
	}
	client.root.AddCommand(command)
	return command
}

// start loads the configuration and applies the command line overrides.
func (client *Client) start(cmd *cobra.Command) error {
	loaded, err := config.Load(client.options.configPath)
	if err != nil {
		return syntaxError(err)
	}
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		if client.options.timeout <= 0 {
			return syntaxError(errors.Errorf("timeout must be positive, got %d", client.options.timeout))
		}
		loaded.Timeout = client.options.timeout
	}
	if flags.Changed("dense-sense") {
		loaded.DenseSense = client.options.denseSense
	}
	if flags.Changed("override") {
		loaded.EnclosureOverride = client.options.override
	}
	if flags.Changed("journal") {
		loaded.Journal = client.options.journalPath
	}
	override, err := loaded.Override()
	if err != nil {
		return syntaxError(err)
	}
	level, err := logger.ParseLevel(loaded.LogLevel)
	if err != nil {
		return syntaxError(err)
	}
	switch {
	case client.options.verbose == 1:
		level = logger.Info
	case client.options.verbose > 1:
		level = logger.Debug
	}
	logger.SetLoggingConfig(level)

	client.config = loaded
	client.registry = passthru.NewRegistry(loaded.MaxOpenDevices, passthru.Options{
		ReadOnly:          client.options.readOnly,
		DenseSense:        loaded.DenseSense,
		EnclosureOverride: override,
		Simulated:         loaded.SimulatedConfig(),
	})
	if loaded.Journal != "" {
		opened, err := journal.Open(loaded.Journal)
		if err != nil {
			return fileError(err)
		}
		client.journal = opened
		client.registry.SetRecorder(opened)
	}
	return nil
}

func (client *Client) stop() {
	log := logger.GetLogger()
	if client.registry != nil {
		if err := client.registry.CloseAll(); err != nil {
			log.Warnf("closing devices: %v", err)
		}
		client.registry = nil
	}
	if client.journal != nil {
		if err := client.journal.Close(); err != nil {
			log.Warnf("closing journal %s: %v", client.journal.Path(), err)
		}
		client.journal = nil
	}
}

func (client *Client) withDevice(cmd *cobra.Command, path string, perform func(device *passthru.Device) error) error {
	if err := client.start(cmd); err != nil {
		return err
	}
	defer client.stop()
	handle, err := client.registry.Open(path)
	if err != nil {
		return &exitError{category: errorCategory(err), err: err}
	}
	device, err := client.registry.Get(handle)
	if err != nil {
		return err
	}
	return perform(device)
}

// execute runs one CDB. Any result but GOOD comes back as an *exitError
// together with the context, so callers may still look at the data.
func (client *Client) execute(device *passthru.Device, cdb, dataIn, dataOut []byte) (*passthru.Context, error) {
	context := passthru.NewContext(device)
	context.SetCDB(cdb)
	if dataIn != nil {
		context.SetDataIn(dataIn)
	}
	if dataOut != nil {
		context.SetDataOut(dataOut)
	}
	return client.run(context, scsi.CommandType(cdb[0]).String())
}

// executeNvme runs a raw NVMe command on the Admin or NVM queue.
func (client *Client) executeNvme(device *passthru.Device, command *nvme.Command, admin bool, dataIn, dataOut []byte) (*passthru.Context, error) {
	context := passthru.NewContext(device)
	context.SetNvmeAdmin(admin)
	context.SetCDB(command.Marshal())
	if dataIn != nil {
		context.SetDataIn(dataIn)
	}
	if dataOut != nil {
		context.SetDataOut(dataOut)
	}
	return client.run(context, nvme.OpcodeString(command.Opcode, admin))
}

func (client *Client) run(context *passthru.Context, name string) (*passthru.Context, error) {
	context.SetSense(make([]byte, client.config.SenseLength))
	context.SetTimeout(client.config.CommandTimeout())
	if err := context.Execute(); errors.Is(err, common.ErrBadParams) {
		return nil, syntaxError(errors.Wrap(err, name))
	}
	logger.GetLogger().Debugf(
		"%s on %s: %s in %s, emulated %t",
		name,
		context.Device().Path(),
		context.ResultCategory(),
		context.Duration(),
		context.EmulatedViaSntl(),
	)
	if context.ResultCategory() == passthru.ResultGood {
		return context, nil
	}
	return context, &exitError{category: context.SenseCategory(), err: describeFailure(name, context)}
}

func describeFailure(name string, context *passthru.Context) error {
	switch context.ResultCategory() {
	case passthru.ResultSense:
		if data, ok := scsi.ParseSense(context.Sense()); ok {
			return errors.Errorf("%s: %s", name, data)
		}
		return errors.Errorf("%s: unrecognised sense % x", name, context.Sense())
	case passthru.ResultStatus:
		if statusErr := context.NvmeStatusError(); statusErr != nil && !context.EmulatedViaSntl() {
			return errors.Wrap(statusErr, name)
		}
		return errors.Errorf("%s: SCSI status 0x%02x", name, context.ScsiStatus())
	}
	if context.OsError() != nil {
		return errors.Wrap(context.OsError(), name)
	}
	return errors.Errorf(
		"%s: host status 0x%04x, driver status 0x%04x",
		name,
		context.HostStatus(),
		context.DriverStatus(),
	)
}

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/attendease-beacon/advertiser"
	"github.com/user/attendease-beacon/beacon"
	"github.com/user/attendease-beacon/logger"
	"github.com/user/attendease-beacon/radio/bluez"
	"github.com/user/attendease-beacon/radio/hci"
	"github.com/user/attendease-beacon/radio/sim"
	"github.com/user/attendease-beacon/util"
	"github.com/user/attendease-beacon/wire/advertising"
)

// shutdown returns the context long-running commands run under.
var shutdown = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "attendease-beacon"
	app.Usage = "broadcast attendance tokens over BLE"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "radio",
			Value:  "sim",
			Usage:  "radio backend: sim, bluez or hci",
			EnvVar: "ATTENDEASE_RADIO",
		},
		cli.StringFlag{
			Name:   "adapter",
			Value:  bluez.DefaultAdapter,
			Usage:  "BlueZ adapter to advertise on",
			EnvVar: "ATTENDEASE_ADAPTER",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "INFO",
			Usage:  "TRACE, DEBUG, INFO, WARN or ERROR",
			EnvVar: "ATTENDEASE_LOG_LEVEL",
		},
		cli.StringFlag{
			Name:   "device-id",
			Usage:  "identity of this device (default: persisted random UUID)",
			EnvVar: "ATTENDEASE_DEVICE_ID",
		},
		cli.BoolFlag{
			Name:   "packet-log",
			Usage:  "sim radio: write transmitted PDUs to the device debug dir",
			EnvVar: "ATTENDEASE_PACKET_LOG",
		},
	}
	app.Before = func(c *cli.Context) error {
		logger.SetLevel(logger.ParseLevel(c.GlobalString("log-level")))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "supported",
			Usage:  "Report whether this device can broadcast a beacon",
			Action: supportedCommand,
		},
		{
			Name:      "start",
			Usage:     "Broadcast a token until interrupted",
			ArgsUsage: "<token>",
			Action:    startCommand,
		},
		{
			Name:      "rotate",
			Usage:     "Broadcast rotating tokens for an attendance session until interrupted",
			ArgsUsage: "<session-id>",
			Flags: []cli.Flag{
				cli.DurationFlag{
					Name:  "interval",
					Value: beacon.DefaultInterval,
					Usage: "how long each token stays on air",
				},
			},
			Action: rotateCommand,
		},
		{
			Name:   "dump",
			Usage:  "Decode what the simulated radio is broadcasting",
			Action: dumpCommand,
		},
	}
	return app
}

func deviceID(c *cli.Context) (string, error) {
	if id := c.GlobalString("device-id"); id != "" {
		return id, nil
	}
	return util.LoadOrCreateDeviceID()
}

func openRadio(c *cli.Context, id string) (advertiser.Radio, error) {
	switch name := c.GlobalString("radio"); name {
	case "sim":
		return sim.New(id, sim.WithPacketLog(c.GlobalBool("packet-log"))), nil
	case "bluez":
		return bluez.New(c.GlobalString("adapter"))
	case "hci":
		return hci.New(), nil
	default:
		return nil, errors.Errorf("unknown radio %q", name)
	}
}

func newController(c *cli.Context) (*advertiser.Controller, error) {
	id, err := deviceID(c)
	if err != nil {
		return nil, err
	}
	radio, err := openRadio(c, id)
	if err != nil {
		return nil, err
	}
	return advertiser.NewController(radio, advertiser.WithDeviceID(id)), nil
}

// exitError renders a controller error with its stable code.
func exitError(err error) error {
	if kind := advertiser.KindOf(err); kind != 0 {
		return cli.NewExitError(fmt.Sprintf("%s: %v", kind.Code(), err), 1)
	}
	return cli.NewExitError(err.Error(), 1)
}

func supportedCommand(c *cli.Context) error {
	ctrl, err := newController(c)
	if err != nil {
		return exitError(err)
	}
	defer ctrl.Close()
	fmt.Fprintln(c.App.Writer, ctrl.IsSupported())
	return nil
}

func startCommand(c *cli.Context) error {
	token := c.Args().First()
	if token == "" {
		return cli.NewExitError("usage: start <token>", 2)
	}
	ctrl, err := newController(c)
	if err != nil {
		return exitError(err)
	}
	defer ctrl.Close()

	ack, err := ctrl.Start(token)
	if err != nil {
		return exitError(err)
	}
	fmt.Fprintln(c.App.Writer, ack.Message)

	ctx, cancel := shutdown()
	defer cancel()
	for {
		select {
		case conf := <-ctrl.Confirmations():
			fmt.Fprintln(c.App.Writer, logger.ToJSON(describeConfirmation(conf)))
		case <-ctx.Done():
			fmt.Fprintln(c.App.Writer, ctrl.Stop())
			return nil
		}
	}
}

func rotateCommand(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return cli.NewExitError("usage: rotate <session-id>", 2)
	}
	ctrl, err := newController(c)
	if err != nil {
		return exitError(err)
	}
	defer ctrl.Close()

	ctx, cancel := shutdown()
	defer cancel()
	r := beacon.NewRotator(ctrl, sessionID,
		beacon.WithInterval(c.Duration("interval")),
		beacon.WithOnToken(func(info beacon.TokenInfo) {
			fmt.Fprintf(c.App.Writer, "%s %s\n", info.Timestamp.Format(time.RFC3339), info.Token)
		}),
	)
	if err := r.Run(ctx); err != nil {
		return exitError(err)
	}
	return nil
}

func dumpCommand(c *cli.Context) error {
	id, err := deviceID(c)
	if err != nil {
		return exitError(err)
	}
	record, err := sim.ReadRecord(id)
	if err != nil {
		return exitError(err)
	}
	fields := record.GetFields()
	w := c.App.Writer

	fmt.Fprintf(w, "device:   %s\n", fields["deviceId"].GetStringValue())
	fmt.Fprintf(w, "name:     %s\n", fields["name"].GetStringValue())
	fmt.Fprintf(w, "pdu:      %s\n", fields["pduType"].GetStringValue())
	fmt.Fprintf(w, "interval: %vms\n", fields["intervalMs"].GetNumberValue())
	fmt.Fprintf(w, "tx power: %vdBm\n", fields["txPowerDbm"].GetNumberValue())

	for _, part := range []struct{ label, field string }{
		{"advertising data", "advData"},
		{"scan response", "scanResponse"},
	} {
		raw, err := hex.DecodeString(fields[part.field].GetStringValue())
		if err != nil {
			return exitError(errors.Wrapf(err, "decode %s", part.label))
		}
		structures, err := advertising.DecodeADStructures(raw)
		if err != nil {
			return exitError(errors.Wrapf(err, "parse %s", part.label))
		}
		fmt.Fprintf(w, "%s (%d bytes):\n", part.label, len(raw))
		for _, ad := range structures {
			fmt.Fprintf(w, "  %-28s %x\n", advertising.ADTypeName(ad.Type), ad.Data)
		}
		for _, sd := range advertising.GetServiceData(structures) {
			fmt.Fprintf(w, "  token for %s: %q\n", sd.UUID, sd.Data)
		}
	}
	return nil
}

func describeConfirmation(conf advertiser.Confirmation) *structpb.Struct {
	s, err := structpb.NewStruct(map[string]interface{}{
		"generation": conf.Generation,
		"token":      conf.Token,
		"status":     conf.Status.String(),
		"ok":         conf.OK(),
		"detail":     conf.Detail,
		"at":         conf.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return &structpb.Struct{}
	}
	return s
}

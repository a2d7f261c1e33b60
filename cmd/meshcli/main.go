// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// meshcli is a development harness for the companion protocol stack:
// it wires a transport, a store and the protocol client together.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Avi0n/pocketmesh/clog"
	"github.com/Avi0n/pocketmesh/companion"
	"github.com/Avi0n/pocketmesh/meshcore"
	"github.com/Avi0n/pocketmesh/store"
	"github.com/Avi0n/pocketmesh/store/boltstore"
	"github.com/Avi0n/pocketmesh/store/memstore"
	"github.com/Avi0n/pocketmesh/transport"
)

var (
	flagSerial  string
	flagBLE     string
	flagDB      string
	flagMetrics string
	flagVerbose bool
)

var log = logrus.New()

func main() {
	root := &cobra.Command{
		Use:           "meshcli",
		Short:         "MeshCore companion radio protocol client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagSerial, "serial", "", "serial port device path")
	root.PersistentFlags().StringVar(&flagBLE, "ble", "", "BLE peripheral address")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "bbolt database path (in-memory store when empty)")
	root.PersistentFlags().StringVar(&flagMetrics, "metrics", "", "prometheus listen address, e.g. :9633")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(infoCmd(), sendCmd(), listenCmd(), contactsCmd(), channelsCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func openStore() (store.Store, func(), error) {
	if flagDB == "" {
		return memstore.New(), func() {}, nil
	}
	bs, err := boltstore.Open(flagDB)
	if err != nil {
		return nil, nil, err
	}
	return bs, func() { bs.Close() }, nil
}

func openTransport(ctx context.Context) (transport.Transport, error) {
	switch {
	case flagSerial != "":
		port, err := os.OpenFile(flagSerial, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		tr := transport.NewSerial(port)
		tr.SetLogProvider(clog.NewLogrusProvider(log, "serial"))
		tr.LogMode(flagVerbose)
		tr.Start()
		return tr, nil
	case flagBLE != "":
		tr := transport.NewBLE()
		tr.SetLogProvider(clog.NewLogrusProvider(log, "ble"))
		tr.LogMode(flagVerbose)
		if err := tr.Connect(ctx, flagBLE); err != nil {
			return nil, err
		}
		return tr, nil
	}
	return nil, fmt.Errorf("one of --serial or --ble is required")
}

// setup connects the whole stack and performs the handshake.
func setup(ctx context.Context) (*companion.Client, store.Store, *store.DeviceRecord, func(), error) {
	if flagVerbose {
		log.SetLevel(logrus.DebugLevel)
	}
	st, closeStore, err := openStore()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	tr, err := openTransport(ctx)
	if err != nil {
		closeStore()
		return nil, nil, nil, nil, err
	}

	reg := prometheus.NewRegistry()
	client, err := companion.NewClient(tr, companion.WithMetrics(reg))
	if err != nil {
		tr.Close()
		closeStore()
		return nil, nil, nil, nil, err
	}
	client.SetLogProvider(clog.NewLogrusProvider(log, "companion"))
	client.LogMode(flagVerbose)

	if flagMetrics != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(flagMetrics, mux); err != nil {
				log.WithError(err).Error("metrics listener failed")
			}
		}()
	}

	di, si, err := client.Start(ctx, "meshcli")
	if err != nil {
		client.Close()
		tr.Close()
		closeStore()
		return nil, nil, nil, nil, fmt.Errorf("handshake: %w", err)
	}
	log.WithFields(logrus.Fields{
		"node":     si.NodeName,
		"firmware": di.FirmwareStr,
	}).Info("connected")

	dev := &store.DeviceRecord{
		PublicKey:       si.PublicKey,
		Name:            si.NodeName,
		FirmwareVer:     di.FirmwareVer,
		FirmwareStr:     di.FirmwareStr,
		Manufacturer:    di.Manufacturer,
		BuildDate:       di.BuildDate,
		FreqKhz:         si.FreqKhz,
		BandwidthKhz:    si.BandwidthKhz,
		SpreadingFactor: si.SpreadingFactor,
		CodingRate:      si.CodingRate,
		TxPower:         si.TxPower,
		MaxTxPower:      si.MaxTxPower,
		Lat:             si.Lat,
		Lon:             si.Lon,
		BlePin:          di.BlePin,
	}
	if err := st.UpsertDevice(dev); err != nil {
		client.Close()
		tr.Close()
		closeStore()
		return nil, nil, nil, nil, err
	}
	if err := st.SetActiveDevice(dev.ID); err != nil {
		log.WithError(err).Warn("activate device")
	}

	cleanup := func() {
		client.Close()
		tr.Close()
		closeStore()
	}
	return client, st, dev, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Connect, handshake and print the radio identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			client, _, dev, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			bat, err := client.BatteryAndStorage(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("node:      %s\n", dev.Name)
			fmt.Printf("key:       %s\n", dev.PublicKey)
			fmt.Printf("firmware:  %s (%s, %s)\n", dev.FirmwareStr, dev.Manufacturer, dev.BuildDate)
			fmt.Printf("radio:     %d kHz bw %d kHz sf%d cr%d tx %d dBm\n",
				dev.FreqKhz, dev.BandwidthKhz, dev.SpreadingFactor, dev.CodingRate, dev.TxPower)
			fmt.Printf("battery:   %d mV, storage %d/%d kB\n", bat.BatteryMv, bat.UsedKb, bat.TotalKb)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var to, text string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a direct text message and wait for delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			client, st, dev, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			raw, err := hex.DecodeString(to)
			if err != nil {
				return fmt.Errorf("recipient key: %w", err)
			}
			key, err := meshcore.ParsePublicKey(raw)
			if err != nil {
				return err
			}
			m := companion.NewMessenger(client, st, dev)
			defer m.Close()
			id, err := m.SendDirect(ctx, key, text)
			if err != nil {
				return err
			}
			log.WithField("id", id).Info("queued")

			// poll the record until it leaves the in-flight states
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(500 * time.Millisecond):
				}
				rec, err := st.GetMessage(id)
				if err != nil {
					return err
				}
				switch rec.Status {
				case store.StatusDelivered:
					fmt.Printf("delivered in %d ms after %d attempts\n", rec.RttMs, rec.Attempts)
					return nil
				case store.StatusFailed:
					return fmt.Errorf("message failed after %d attempts", rec.Attempts)
				}
			}
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient public key, hex")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("text")
	return cmd
}

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Run the receive loop and print incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			client, st, dev, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			m := companion.NewMessenger(client, st, dev)
			defer m.Close()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return m.Run(ctx) })
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case im := <-m.Incoming():
						when := im.Record.CreatedAt.Time().Format(time.RFC3339)
						if im.Contact != nil {
							fmt.Printf("[%s] %s: %s\n", when, im.Contact.Name, im.Record.Text)
						} else {
							fmt.Printf("[%s] ch%d %s: %s\n", when, im.Record.ChannelIdx, im.Record.SenderName, im.Record.Text)
						}
					}
				}
			})
			err = g.Wait()
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "Sync and list contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			client, st, dev, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			syncer := companion.NewContactSyncer(client, st)
			if _, err := syncer.Sync(ctx, dev); err != nil {
				return err
			}
			contacts, err := st.ListContacts(dev.ID)
			if err != nil {
				return err
			}
			for _, c := range contacts {
				fmt.Printf("%-20s %-8s %s\n", c.Name, c.Type, c.PublicKey)
			}
			return nil
		},
	}
}

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "Sync and list channel slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			client, st, dev, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			syncer := companion.NewContactSyncer(client, st)
			channels, err := syncer.SyncChannels(ctx, dev)
			if err != nil {
				return err
			}
			for _, ch := range channels {
				state := "inactive"
				if (ch.Secret != [meshcore.ChannelSecretLen]byte{}) {
					state = "active"
				}
				fmt.Printf("%d  %-32s %s\n", ch.Index, ch.Name, state)
			}
			return nil
		},
	}
}

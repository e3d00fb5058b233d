// ABOUTME: whatsmeow-backed session.Dialer with one device store for all tenants
// ABOUTME: Tenants' stored credentials hold the JID of their paired device

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/2389/wa-gateway/internal/session"
)

// ErrDeviceNotFound means the stored credentials point at a device the
// device store no longer has.
var ErrDeviceNotFound = errors.New("paired device not found in device store")

// Config configures the dialer.
type Config struct {
	// DeviceStorePath is the SQLite file holding device keys.
	DeviceStorePath string
	// OSName is shown in the phone's linked devices list.
	OSName string
	Logger *slog.Logger
}

// Dialer opens whatsmeow clients.
type Dialer struct {
	container *sqlstore.Container
	logger    *slog.Logger
}

var _ session.Dialer = (*Dialer)(nil)

// Open opens (creating if needed) the device store.
func Open(ctx context.Context, cfg Config) (*Dialer, error) {
	if cfg.DeviceStorePath == "" {
		return nil, errors.New("device store path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "whatsapp")

	if cfg.OSName != "" {
		store.DeviceProps.Os = proto.String(cfg.OSName)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", cfg.DeviceStorePath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newLogger(logger.With("module", "store")))
	if err != nil {
		return nil, fmt.Errorf("opening device store: %w", err)
	}

	return &Dialer{
		container: container,
		logger:    logger,
	}, nil
}

// Close closes the device store.
func (d *Dialer) Close() error {
	return d.container.Close()
}

// Dial implements session.Dialer. Without credentials a fresh device is
// created and pairing codes are reported as QR status updates.
func (d *Dialer) Dial(ctx context.Context, req session.DialRequest) (session.Socket, error) {
	logger := d.logger.With("client_id", req.ClientID)

	device, err := d.device(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, newLogger(logger.With("module", "client")))
	client.EnableAutoReconnect = false

	sock := &socket{
		client:  client,
		handler: req.Handler,
		logger:  logger,
	}
	sock.handlerID = client.AddEventHandler(sock.handleEvent)

	// The QR channel outlives the request that dialed.
	qrCtx, cancel := context.WithCancel(context.Background())
	sock.cancel = cancel

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			sock.detach()
			return nil, fmt.Errorf("requesting qr channel: %w", err)
		}
		go sock.watchQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		sock.detach()
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return sock, nil
}

func (d *Dialer) device(ctx context.Context, creds []byte) (*store.Device, error) {
	if len(creds) == 0 {
		return d.container.NewDevice(), nil
	}

	jid, err := types.ParseJID(string(creds))
	if err != nil {
		return nil, fmt.Errorf("parsing stored device id: %w", err)
	}
	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("loading device %s: %w", jid, err)
	}
	if device == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, jid)
	}
	return device, nil
}

// socket is one whatsmeow client generation.
type socket struct {
	client    *whatsmeow.Client
	handler   session.EventHandler
	handlerID uint32
	cancel    context.CancelFunc
	closed    atomic.Bool
	logger    *slog.Logger
}

var _ session.Socket = (*socket)(nil)

func (s *socket) handleEvent(evt any) {
	if s.closed.Load() {
		return
	}

	switch e := evt.(type) {
	case *events.PairSuccess:
		s.logger.Info("device paired", "jid", e.ID.String(), "platform", e.Platform)
		s.handler.OnCredentials([]byte(e.ID.String()))
	case *events.Message:
		s.handler.OnMessages([]session.InboundMessage{inboundFromEvent(e)})
	default:
		if update, ok := statusFromEvent(evt); ok {
			s.handler.OnStatus(update)
		}
	}
}

func (s *socket) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		if s.closed.Load() {
			return
		}
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.handler.OnStatus(session.StatusUpdate{Kind: session.StatusQR, QR: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			s.logger.Debug("qr pairing succeeded")
		case whatsmeow.QRChannelTimeout.Event:
			s.handler.OnStatus(closeOther("qr code not scanned in time"))
		default:
			detail := "qr pairing failed: " + item.Event
			if item.Error != nil {
				detail += ": " + item.Error.Error()
			}
			s.handler.OnStatus(closeOther(detail))
		}
	}
}

// SendText implements session.Socket.
func (s *socket) SendText(ctx context.Context, to session.Address, text string) (string, error) {
	resp, err := s.client.SendMessage(ctx, types.NewJID(to.User, to.Server), &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

// Logout implements session.Socket. A device that never paired has nothing
// to revoke, so logging it out succeeds without contacting the server.
func (s *socket) Logout(ctx context.Context) error {
	if s.client.Store.ID == nil {
		s.logger.Debug("logout skipped, device not paired")
		return nil
	}
	return s.client.Logout(ctx)
}

// Close implements session.Socket. Events stop before the connection drops.
func (s *socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.detach()
	s.client.Disconnect()
	return nil
}

func (s *socket) detach() {
	s.closed.Store(true)
	s.client.RemoveEventHandler(s.handlerID)
	if s.cancel != nil {
		s.cancel()
	}
}

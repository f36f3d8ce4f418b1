// Package gateway connects the engine to WhatsApp through whatsmeow.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	recordsdb "atendimento/internal/db"
	"atendimento/internal/models"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Handler receives the chat events the engine cares about.
type Handler interface {
	HandleMessage(ctx context.Context, msg models.InboundMessage) error
	HandleClosed(ctx context.Context, conversationID string) error
}

// ErrNotConnected is returned by Send before the session is up.
var ErrNotConnected = errors.New("whatsapp session not connected")

// Options configure the session store.
type Options struct {
	// Store is "sqlite" or "postgres".
	Store string
	DSN   string
	// QROut receives the terminal rendering of pairing codes; nil disables it.
	QROut io.Writer
}

type Client struct {
	wa      *whatsmeow.Client
	db      *sql.DB
	handler Handler
	inbound *inbound
	qr      *qrHolder
	log     zerolog.Logger
}

// Open loads (or creates) the device session. Call Start to connect.
func Open(ctx context.Context, opts Options) (*Client, error) {
	logger := log.Logger.With().Str("component", "whatsapp").Logger()

	driver, dialect := "sqlite", "sqlite3"
	if opts.Store == "postgres" {
		driver, dialect = "postgres", "postgres"
	}
	if driver == "sqlite" {
		if err := recordsdb.EnsureDir(opts.DSN); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	container := sqlstore.NewWithDB(db, dialect, newWALogger(logger, "Database"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrade session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	c := &Client{
		wa:      whatsmeow.NewClient(device, newWALogger(logger, "Client")),
		db:      db,
		inbound: newInbound(),
		qr:      &qrHolder{out: opts.QROut},
		log:     logger,
	}
	return c, nil
}

// Start routes chat events to handler and connects the session. An unpaired
// device emits QR codes until it is scanned or the pairing times out.
func (c *Client) Start(ctx context.Context, handler Handler) error {
	c.handler = handler
	c.wa.AddEventHandler(c.handleEvent)
	if c.wa.Store.ID != nil {
		c.qr.paired(true)
		return c.wa.Connect()
	}

	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	go func() {
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				if err := c.qr.show(evt.Code); err != nil {
					c.log.Error().Err(err).Msg("Failed to render QR code")
				}
				c.log.Info().Msg("QR code ready, scan it to pair the session")
			case "success":
				c.qr.paired(true)
				c.log.Info().Msg("Session paired")
			default:
				c.log.Warn().Str("event", evt.Event).Msg("QR pairing ended")
			}
		}
	}()
	return nil
}

// QR returns the pairing state shown on the dashboard.
func (c *Client) QR() QRState {
	return c.qr.get()
}

// Send delivers a plain text message.
func (c *Client) Send(ctx context.Context, conversationID, body string) error {
	if !c.wa.IsConnected() {
		return ErrNotConnected
	}
	jid, err := types.ParseJID(conversationID)
	if err != nil {
		return fmt.Errorf("parse jid %q: %w", conversationID, err)
	}
	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return fmt.Errorf("send to %s: %w", conversationID, err)
	}
	c.log.Debug().Str("conversationID", conversationID).Str("messageID", resp.ID).Msg("Message delivered to server")
	return nil
}

func (c *Client) Close() {
	c.wa.Disconnect()
	c.inbound.wait()
	if err := c.db.Close(); err != nil {
		c.log.Error().Err(err).Msg("Failed to close session store")
	}
}

func (c *Client) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		msg, ok := toInbound(evt)
		if !ok {
			return
		}
		c.inbound.push(msg.ConversationID, func() {
			if err := c.handler.HandleMessage(context.Background(), msg); err != nil {
				c.log.Error().Err(err).Str("conversationID", msg.ConversationID).Msg("Failed to handle message")
			}
		})
	case *events.DeleteChat:
		if evt.FromFullSync {
			return
		}
		id := evt.JID.ToNonAD().String()
		c.inbound.push(id, func() {
			if err := c.handler.HandleClosed(context.Background(), id); err != nil {
				c.log.Error().Err(err).Str("conversationID", id).Msg("Failed to close conversation")
			}
		})
	case *events.Connected:
		c.qr.paired(true)
		c.log.Info().Msg("Connected to WhatsApp")
	case *events.LoggedOut:
		c.qr.paired(false)
		c.log.Warn().Str("reason", evt.Reason.String()).Msg("Session logged out")
	case *events.Disconnected:
		c.log.Warn().Msg("Disconnected from WhatsApp")
	}
}

// toInbound maps a whatsmeow message to the engine's inbound message. Group
// chats, broadcasts and messages without text are skipped.
func toInbound(evt *events.Message) (models.InboundMessage, bool) {
	if evt.Info.IsGroup || evt.Info.Chat.Server == types.BroadcastServer {
		return models.InboundMessage{}, false
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" {
		return models.InboundMessage{}, false
	}
	ts := evt.Info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.InboundMessage{
		ConversationID: evt.Info.Chat.ToNonAD().String(),
		EventID:        evt.Info.ID,
		Text:           text,
		FromSelf:       evt.Info.IsFromMe,
		PushName:       evt.Info.PushName,
		Timestamp:      ts,
	}, true
}

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/models"
)

// BarSink receives bars pushed by the gateway.
type BarSink interface {
	OnNewBar(key models.InstrumentKey, bar models.Bar)
}

// SubscribeMessage asks the gateway to stream bars for a set of instruments.
type SubscribeMessage struct {
	Op          string   `json:"op"`
	Instruments []string `json:"instruments"`
}

// BarMessage is one streamed bar.
type BarMessage struct {
	Type       string  `json:"type"`
	Exchange   string  `json:"exchange"`
	Instrument string  `json:"instrument"`
	Bar        BarItem `json:"bar"`
}

const (
	streamReadTimeout  = 30 * time.Second
	streamPingInterval = 15 * time.Second
	streamWriteTimeout = 5 * time.Second
	streamMaxBackoff   = 30 * time.Second
)

// BarStream subscribes to the gateway's kline stream and forwards every bar
// to a sink, reconnecting with backoff until its context is done.
type BarStream struct {
	url     string
	apiKey  string
	keys    []models.InstrumentKey
	sink    BarSink
	dialer  websocket.Dialer
	backoff time.Duration
	logger  *logrus.Entry
}

// NewBarStream creates a stream for keys. url is a ws:// or wss:// address.
func NewBarStream(url, apiKey string, keys []models.InstrumentKey, sink BarSink, logger *logrus.Logger) *BarStream {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BarStream{
		url:     url,
		apiKey:  apiKey,
		keys:    keys,
		sink:    sink,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: time.Second,
		logger:  logger.WithField("component", "bar_stream"),
	}
}

// Run consumes the stream until ctx is done. Disconnects are retried.
func (s *BarStream) Run(ctx context.Context) error {
	if len(s.keys) == 0 {
		return errors.New("bar stream requires at least one instrument")
	}

	backoff := s.backoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("Bar stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = time.Duration(math.Min(float64(streamMaxBackoff), float64(backoff)*1.8))
	}
}

func (s *BarStream) consume(ctx context.Context) error {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.apiKey)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dialing bar stream: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sub := SubscribeMessage{Op: "subscribe", Instruments: make([]string, len(s.keys))}
	for i, k := range s.keys {
		sub.Instruments[i] = k.String()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	s.logger.WithField("instruments", len(s.keys)).Info("Bar stream connected")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		var msg BarMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.WithError(err).Debug("Undecodable bar stream message")
			continue
		}
		if msg.Type != "" && msg.Type != "bar" {
			continue
		}
		key := models.NewInstrumentKey(msg.Exchange, msg.Instrument)
		if key.IsZero() || msg.Bar.Timestamp.IsZero() {
			continue
		}
		s.sink.OnNewBar(key, msg.Bar.Bar())
	}
}

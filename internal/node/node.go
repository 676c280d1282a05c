// Package node assembles the seven-layer pipeline and drives it in server or
// client mode.
package node

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/osistack/osistack/internal/config"
	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/stack/application"
	"github.com/osistack/osistack/internal/stack/datalink"
	"github.com/osistack/osistack/internal/stack/network"
	"github.com/osistack/osistack/internal/stack/physical"
	"github.com/osistack/osistack/internal/stack/presentation"
	"github.com/osistack/osistack/internal/stack/session"
	"github.com/osistack/osistack/internal/stack/transport"
)

// Stack is one node's assembled layer chain. The chain is built once and
// never rewired.
type Stack struct {
	Physical     *physical.Layer
	DataLink     *datalink.Layer
	Network      *network.Layer
	Transport    *transport.Layer
	Session      *session.Layer
	Presentation *presentation.Layer
	Application  *application.Layer
}

// NewStack builds and links a full layer chain on top of medium.
func NewStack(isServer bool, medium physical.Medium, cfg config.Config) *Stack {
	s := &Stack{
		Physical:     physical.NewLayer(medium),
		DataLink:     datalink.NewLayer(cfg.Network.MACAddress),
		Network:      network.NewLayer(cfg.Network.Address),
		Transport:    transport.NewLayer(),
		Session:      session.NewLayer(),
		Presentation: presentation.NewLayer(),
		Application:  application.NewLayer(isServer),
	}
	applyPresentation(s.Presentation, cfg.Presentation)
	stack.Link(s.Physical, s.DataLink, s.Network, s.Transport, s.Session, s.Presentation, s.Application)
	return s
}

func applyPresentation(l *presentation.Layer, cfg config.PresentationConfig) {
	switch strings.ToLower(strings.TrimSpace(cfg.Encryption)) {
	case "xor":
		l.SetEncryption(presentation.EncryptionXOR, cfg.Key)
	default:
		l.SetEncryption(presentation.EncryptionNone, cfg.Key)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Compression)) {
	case "simple":
		l.SetCompression(presentation.CompressionSimple)
	default:
		l.SetCompression(presentation.CompressionNone)
	}
}

// RunServer serves requests until the peer disconnects.
func RunServer(cfg config.Config) error {
	medium := physical.NewTCPMedium(true, cfg.Node.Host, cfg.Node.Port)
	s := NewStack(true, medium, cfg)

	s.Application.AddRoute("/", application.IndexHandler)
	s.Application.AddRoute("/echo", application.EchoHandler)
	s.Application.AddRoute("/time", application.TimeHandler)

	if cfg.Admin.Enabled {
		go serveAdmin(cfg.Admin, s)
	}

	if err := medium.Initialize(); err != nil {
		return err
	}
	defer medium.Close()

	log.Info().Str("host", cfg.Node.Host).Int("port", cfg.Node.Port).Msg("server running")
	for {
		if err := s.Physical.ReceiveOnce(); err != nil {
			if errors.Is(err, io.EOF) {
				log.Info().Msg("peer disconnected")
				return nil
			}
			return err
		}
	}
}

// RunClient connects, issues the demo request sequence, and prints each
// response as it arrives.
func RunClient(cfg config.Config) error {
	medium := physical.NewTCPMedium(false, cfg.Node.Host, cfg.Node.Port)
	s := NewStack(false, medium, cfg)
	s.Application.SetRemote(cfg.Network.PeerAddress, cfg.Transport.RemotePort)

	if err := medium.Initialize(); err != nil {
		return err
	}
	defer medium.Close()

	requests := []application.Request{
		{Method: "GET", Path: "/", Headers: map[string]string{"User-Agent": "osistack-client"}},
		{Method: "POST", Path: "/echo", Headers: map[string]string{"Content-Type": "text/plain"}, Body: "Hello, OSI Model!"},
		{Method: "GET", Path: "/time", Headers: map[string]string{"User-Agent": "osistack-client"}},
	}

	for _, req := range requests {
		done := false
		s.Application.SendRequest(req, func(resp application.Response) {
			fmt.Printf("%s %s -> %d %s\n%s\n\n", req.Method, req.Path,
				resp.StatusCode, resp.StatusMessage, resp.Body)
			done = true
		})
		for !done {
			if err := s.Physical.ReceiveOnce(); err != nil {
				if errors.Is(err, io.EOF) {
					return errors.New("node: server closed before responding")
				}
				return err
			}
		}
	}

	log.Info().Msg("all requests completed")
	return nil
}

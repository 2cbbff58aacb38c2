package sync

import (
	"bufio"
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
)

// Server is a line-delimited JSON feed of history events over TCP.
type Server struct {
	Addr string
	Hub  *Hub
}

func NewServer(addr string, hub *Hub) *Server {
	return &Server{Addr: addr, Hub: hub}
}

// Run accepts clients until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.Hub.logger
	log.WithField("addr", ln.Addr().String()).Info("tcp event feed listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Warn("tcp accept")
			continue
		}

		s.Hub.Add(conn)
		log.WithField("remote", conn.RemoteAddr().String()).Info("tcp client connected")

		go func(c net.Conn) {
			defer func() {
				s.Hub.Remove(c)
				log.WithFields(logrus.Fields{"remote": c.RemoteAddr().String()}).Info("tcp client disconnected")
			}()

			sc := bufio.NewScanner(c)
			for sc.Scan() {
			}
		}(conn)
	}
}

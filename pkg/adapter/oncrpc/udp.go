package oncrpc

import (
	"errors"
	"net"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/rpc"
)

// datagram is one received UDP call awaiting a worker.
type datagram struct {
	buf    *[]byte
	n      int
	remote net.Addr
}

// udpSender replies to the source address of a datagram.
type udpSender struct {
	conn   net.PacketConn
	remote net.Addr
}

func (s udpSender) SendReply(msg []byte) error {
	_, err := s.conn.WriteTo(msg, s.remote)
	return err
}

// startUDP launches the receive loop and the worker pool. Datagrams that
// arrive while every worker is busy and the queue is full are dropped; the
// client retransmits.
func (s *Server) startUDP() {
	queue := make(chan datagram, s.config.Workers*4)

	for i := 0; i < s.config.Workers; i++ {
		s.udpWorkers.Add(1)
		go func() {
			defer s.udpWorkers.Done()
			for d := range queue {
				s.serveDatagram(d)
			}
		}()
	}

	s.udpWorkers.Add(1)
	go func() {
		defer s.udpWorkers.Done()
		defer close(queue)
		s.receiveUDP(queue)
	}()
}

func (s *Server) receiveUDP(queue chan<- datagram) {
	for {
		buf := getDatagram()
		n, remote, err := s.packetConn.ReadFrom(*buf)
		if err != nil {
			putDatagram(buf)
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("%s UDP receive loop stopped", s.config.Name)
				return
			}
			select {
			case <-s.shutdown:
				return
			default:
			}
			logger.Debug("%s UDP read error: %v", s.config.Name, err)
			continue
		}

		if !s.limiter.Allow() {
			putDatagram(buf)
			logger.Debug("%s call rate exceeded, dropping datagram from %s", s.config.Name, remote)
			continue
		}

		select {
		case queue <- datagram{buf: buf, n: n, remote: remote}:
		default:
			putDatagram(buf)
			logger.Debug("%s UDP queue full, dropping datagram from %s", s.config.Name, remote)
		}
	}
}

func (s *Server) serveDatagram(d datagram) {
	defer putDatagram(d.buf)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic serving UDP datagram from %s: %v", d.remote, r)
		}
	}()

	sender := udpSender{conn: s.packetConn, remote: d.remote}
	resp, err := s.mux.ServeMessage(s.shutdownCtx, (*d.buf)[:d.n], d.remote, "udp", sender)
	if err != nil {
		logger.Debug("Dropping unparseable datagram from %s: %v", d.remote, err)
		return
	}

	if resp.Kind == rpc.ReplyNow {
		if err := sender.SendReply(resp.Body); err != nil {
			logger.Debug("Error replying to %s: %v", d.remote, err)
		}
	}
}

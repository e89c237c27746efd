package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ubuntu-repo/redirfs"
	"github.com/ubuntu-repo/redirfs/unixio"
)

// serveAgents accepts agent connections on ln until ctx is done, running
// one request/reply loop pair per connection. It is the Unix-socket
// transport that stands in for the out-of-scope "character-device or
// syscall surface used to transport bytes" (spec.md §1).
func serveAgents(ctx context.Context, ln *net.UnixListener, b *avflt.Broker, hb *unixio.Broker, bufSize int, logger *log.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			select {
			case <-gctx.Done():
				return g.Wait()
			default:
				return err
			}
		}
		g.Go(func() error {
			return handleAgentConn(gctx, conn, b, hb, bufSize, logger)
		})
	}
}

// handleAgentConn registers the connecting process as an agent, runs its
// request and reply loops concurrently, and strands any undelivered
// backlog on disconnect.
func handleAgentConn(ctx context.Context, conn *net.UnixConn, b *avflt.Broker, hb *unixio.Broker, bufSize int, logger *log.Logger) error {
	defer conn.Close()

	pgid, err := readRegistration(conn)
	if err != nil {
		return fmt.Errorf("avfltd: registration: %w", err)
	}

	agent := avflt.NewAgent(pgid)
	b.Agents.Register(agent)
	hb.Attach(agent, conn)
	logger.Printf("agent %d connected", pgid)

	defer func() {
		hb.Detach(agent)
		b.Depart(pgid)
		logger.Printf("agent %d disconnected", pgid)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return requestLoop(gctx, b, agent, conn, bufSize, logger) })
	g.Go(func() error { return replyLoop(gctx, b, agent, conn) })
	return g.Wait()
}

// requestLoop pops events destined for agent and writes each encoded
// request line to conn, per spec.md §4.5. When an event carries a file
// handle, ReadRequest has already delivered the line itself (combined
// with the handle's ancillary data) and returns a nil line here, so there
// is nothing left to write.
func requestLoop(ctx context.Context, b *avflt.Broker, agent *avflt.Agent, conn *net.UnixConn, bufSize int, logger *log.Logger) error {
	for {
		e, err := b.WaitForRequest(ctx, agent)
		if err != nil {
			return err
		}

		line, err := b.ReadRequest(agent, e, bufSize)
		if err != nil {
			logger.Printf("avfltd: encode request: %v", err)
			continue
		}
		if line == nil {
			continue
		}

		if _, err := conn.Write(line); err != nil {
			return err
		}
	}
}

// replyLoop reads NUL-terminated reply lines from conn and applies each
// one, per spec.md §4.4.
func replyLoop(ctx context.Context, b *avflt.Broker, agent *avflt.Agent, conn *net.UnixConn) error {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes(0)
		if err != nil {
			return err
		}
		line = bytes.TrimSuffix(line, []byte{0})

		if err := b.ApplyReply(agent.Pgid, line); err != nil {
			b.Logger.Printf("avfltd: reply from agent %d: %v", agent.Pgid, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// readRegistration reads the handshake line an agent sends immediately
// after connecting: "register:<pgid>\n".
func readRegistration(conn *net.UnixConn) (int, error) {
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSpace(line)
	v, ok := strings.CutPrefix(line, "register:")
	if !ok {
		return 0, fmt.Errorf("avfltd: bad handshake %q", line)
	}
	return strconv.Atoi(v)
}

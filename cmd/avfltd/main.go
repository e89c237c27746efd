// Command avfltd is a demo scan-request broker daemon: it listens on a
// Unix domain socket for agent connections, and exposes a tiny line-driven
// admin protocol for driving PreOpen/PostRelease checks against paths,
// standing in for the (out of scope) kernel filesystem filter that would
// otherwise call into the broker directly.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ubuntu-repo/redirfs"
	"github.com/ubuntu-repo/redirfs/mountroots"
	"github.com/ubuntu-repo/redirfs/unixio"
)

func main() {
	var (
		socketPath   = flag.String("socket", "/var/run/avfltd.sock", "unix socket agents connect to")
		adminPath    = flag.String("admin", "/var/run/avfltd.admin.sock", "unix socket the admin protocol listens on")
		replyTimeout = flag.Duration("reply-timeout", 30*time.Second, "how long to wait for an agent's verdict, 0 = infinite")
		watchRoot    = flag.String("root", "/", "filesystem root to enumerate mount points under")
		bufSize      = flag.Int("request-bufsize", 512, "max encoded request line length")
		cacheEnabled = flag.Bool("cache", true, "enable per-inode verdict caching")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "avfltd: ", log.LstdFlags|log.Lmicroseconds)

	if err := run(*socketPath, *adminPath, *watchRoot, *bufSize, *replyTimeout, *cacheEnabled, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(socketPath, adminPath, watchRoot string, bufSize int, replyTimeout time.Duration, cacheEnabled bool, logger *log.Logger) error {
	b := avflt.NewBroker()
	b.Logger = logger
	b.SetCacheEnabled(cacheEnabled)
	b.SetReplyTimeout(replyTimeout)

	hb := unixio.New()
	b.Handles = hb

	roots := mountroots.New()
	if err := roots.Refresh(mountroots.PathPrefixFilter(watchRoot)); err != nil {
		return fmt.Errorf("avfltd: initial mount refresh: %w", err)
	}

	dispatcher := avflt.NewDispatcher(b)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agentLn, err := listenUnix(socketPath)
	if err != nil {
		return err
	}
	defer agentLn.Close()

	adminLn, err := listenUnix(adminPath)
	if err != nil {
		return err
	}
	defer adminLn.Close()

	b.StartAccepting()
	if err := b.OnActivate(roots, noopActivator{}); err != nil {
		return fmt.Errorf("avfltd: activate: %w", err)
	}
	logger.Printf("listening for agents on %s, admin on %s", socketPath, adminPath)

	errCh := make(chan error, 2)
	go func() { errCh <- serveAgents(ctx, agentLn, b, hb, bufSize, logger) }()
	go func() { errCh <- serveAdmin(ctx, adminLn, dispatcher, roots, logger) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Printf("serve error: %v", err)
		}
	}

	logger.Printf("shutting down")
	b.StopAccepting()
	b.Shutdown()
	return nil
}

func listenUnix(path string) (*net.UnixListener, error) {
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	return net.ListenUnix("unix", addr)
}

type noopActivator struct{}

func (noopActivator) Activate() error { return nil }

// serveAdmin accepts connections on a second socket offering a trivial
// line protocol for exercising the dispatcher without a real kernel
// filter: "open:<path>:<inode>:<size>\n" / "close:<path>:<inode>:<size>\n".
func serveAdmin(ctx context.Context, ln *net.UnixListener, d *avflt.Dispatcher, roots *mountroots.Registry, logger *log.Logger) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go handleAdminConn(ctx, conn, d, roots, logger)
	}
}

func handleAdminConn(ctx context.Context, conn *net.UnixConn, d *avflt.Dispatcher, roots *mountroots.Registry, logger *log.Logger) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		reply := handleAdminLine(ctx, strings.TrimSpace(line), d, roots)
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}

func handleAdminLine(ctx context.Context, line string, d *avflt.Dispatcher, roots *mountroots.Registry) string {
	parts := strings.Split(line, ":")
	if len(parts) != 4 {
		return "error: want open|close:<path>:<inode>:<size>"
	}

	var typ func(context.Context, *avflt.FileAccess) avflt.Decision
	switch parts[0] {
	case "open":
		typ = d.PreOpen
	case "close":
		typ = d.PostRelease
	default:
		return "error: unknown verb " + parts[0]
	}

	path := parts[1]
	inode, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "error: bad inode"
	}
	size, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "error: bad size"
	}

	fa := &avflt.FileAccess{
		Identity: avflt.Identity{Pid: os.Getpid(), Tgid: os.Getpid(), Ppid: os.Getppid(), Ruid: os.Getuid()},
		Inode:    inode,
		Size:     size,
		Path:     path,
		File: &avflt.FileRef{
			Dentry: pathDentry{path: path},
			Mount:  pathMount{},
		},
		Root: roots.Lookup(rootOf(roots, path)),
	}

	decision := typ(ctx, fa)
	if decision.Stop {
		return fmt.Sprintf("deny:%d", decision.Code)
	}
	return "allow"
}

// rootOf finds the longest registered mount point prefixing path, the
// demo's stand-in for the kernel's mnt-to-RootData resolution.
func rootOf(roots *mountroots.Registry, path string) string {
	best := ""
	for _, r := range roots.Roots() {
		dir := r.Path
		if strings.HasPrefix(path, dir) && len(dir) > len(best) {
			best = dir
		}
	}
	return best
}

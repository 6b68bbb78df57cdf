package mcast

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
)

// soReuseport is Linux's SO_REUSEPORT socket option number. The
// syscall package does not export it on every platform (ka9q_ubersdr's
// own user_spectrum.go defines the same constant for the same reason).
const soReuseport = 0xf

// DefaultTTL matches radiod's own default multicast TTL.
const DefaultTTL = 2

// SendSocketOptions configures NewSendSocket.
type SendSocketOptions struct {
	// Interface, if non-nil, pins IP_MULTICAST_IF and group joins to
	// this interface, as needed on multi-homed hosts where the default
	// route isn't the radio interface. Nil means INADDR_ANY / kernel's
	// choice.
	Interface *net.Interface
	// Loopback enables IP_MULTICAST_LOOP so local listeners (including
	// a status socket on the same host) observe our own sends.
	Loopback bool
	// TTL sets IP_MULTICAST_TTL; 0 means DefaultTTL.
	TTL int
}

// NewSendSocket builds the command-sending UDP socket: reuse-address,
// optional loopback, a TTL, and IP_MULTICAST_IF bound to the chosen
// interface (or left to the kernel). It also joins the destination
// multicast group, avoiding IGMP-snooping blackholes on switches that
// only forward multicast to known members.
func NewSendSocket(dest *net.UDPAddr, opts SendSocketOptions) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("mcast: create send socket: %w", err)
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: raw send socket: %w", err)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	loop := 0
	if opts.Loopback {
		loop = 1
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("mcast: SO_REUSEADDR: %w", err)
			return
		}
		if err := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_LOOP, loop); err != nil {
			sockErr = fmt.Errorf("mcast: IP_MULTICAST_LOOP: %w", err)
			return
		}
		if err := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_TTL, ttl); err != nil {
			sockErr = fmt.Errorf("mcast: IP_MULTICAST_TTL: %w", err)
			return
		}
		if opts.Interface != nil {
			mreqn := syscall.IPMreqn{Ifindex: int32(opts.Interface.Index)}
			if err := syscall.SetsockoptIPMreqn(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_IF, &mreqn); err != nil {
				sockErr = fmt.Errorf("mcast: IP_MULTICAST_IF: %w", err)
				return
			}
		}
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: control send socket: %w", err)
	}
	if sockErr != nil {
		conn.Close()
		return nil, sockErr
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(opts.Interface, dest); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: join group on send socket: %w", err)
	}

	return conn, nil
}

// StatusSocketOptions configures NewStatusSocket.
type StatusSocketOptions struct {
	// Interface, if non-nil, is used for the multicast group join; nil
	// joins on INADDR_ANY.
	Interface *net.Interface
	// ReadTimeout is accepted but not applied: NewStatusSocket sets no
	// read deadline on the socket it returns, so each caller sets its
	// own with SetReadDeadline before reading.
	ReadTimeout time.Duration
}

// DefaultReadTimeout is a short read deadline suited to a status
// listener's read loop. NewStatusSocket does not apply it.
const DefaultReadTimeout = 100 * time.Millisecond

// NewStatusSocket builds the status-listening UDP socket: bound to
// 0.0.0.0 on group's port (all interfaces) with SO_REUSEADDR and
// SO_REUSEPORT so more than one listener (e.g. a Controller's cached
// socket and a concurrent discovery call) can coexist, joined to
// group's multicast address on the chosen interface.
func NewStatusSocket(group *net.UDPAddr, opts StatusSocketOptions) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
					opErr = fmt.Errorf("mcast: SO_REUSEADDR: %w", err)
					return
				}
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, soReuseport, 1); err != nil {
					opErr = fmt.Errorf("mcast: SO_REUSEPORT: %w", err)
					return
				}
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}

	bindAddr := &net.UDPAddr{IP: net.IPv4zero, Port: group.Port}
	packetConn, err := lc.ListenPacket(context.Background(), "udp4", bindAddr.String())
	if err != nil {
		return nil, fmt.Errorf("mcast: bind status socket: %w", err)
	}
	conn := packetConn.(*net.UDPConn)

	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(opts.Interface, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: join status multicast group: %w", err)
	}

	return conn, nil
}

// SelectInterface resolves an optional interface name to *net.Interface,
// falling back to nil (kernel default) when ifaceName is empty.
func SelectInterface(ifaceName string) (*net.Interface, error) {
	if ifaceName == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("mcast: interface %s: %w", ifaceName, err)
	}
	return iface, nil
}

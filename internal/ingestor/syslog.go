package ingestor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
)

// UDPListenerFactory creates a UDP connection.
type UDPListenerFactory func(network, address string) (net.PacketConn, error)

// TCPListenerFactory creates a TCP listener.
type TCPListenerFactory func(network, address string) (net.Listener, error)

// SyslogOption configures the SyslogIngestor.
type SyslogOption func(*SyslogIngestor)

// WithUDPListenerFactory sets a custom UDP listener factory.
func WithUDPListenerFactory(f UDPListenerFactory) SyslogOption {
	return func(s *SyslogIngestor) {
		s.udpFactory = f
	}
}

// WithTCPListenerFactory sets a custom TCP listener factory.
func WithTCPListenerFactory(f TCPListenerFactory) SyslogOption {
	return func(s *SyslogIngestor) {
		s.tcpFactory = f
	}
}

// SyslogIngestor receives access log lines shipped over syslog, as nginx does
// with "access_log syslog:server=...". The syslog header is removed so the
// entry's Raw holds the bare log line.
type SyslogIngestor struct {
	cfg        config.SyslogIngestorConfig
	name       string
	udpFactory UDPListenerFactory
	tcpFactory TCPListenerFactory
	logger     logger.ILogger
}

// NewSyslogIngestor creates a new syslog ingestor.
func NewSyslogIngestor(cfg config.SyslogIngestorConfig, log logger.ILogger, opts ...SyslogOption) *SyslogIngestor {
	s := &SyslogIngestor{
		cfg:    cfg,
		name:   "syslog",
		logger: log.SubLogger("SyslogIngestor"),
	}

	s.udpFactory = func(network, address string) (net.PacketConn, error) {
		addr, err := net.ResolveUDPAddr(network, address)
		if err != nil {
			return nil, err
		}
		return net.ListenUDP(network, addr)
	}
	s.tcpFactory = net.Listen

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the ingestor identifier.
func (s *SyslogIngestor) Name() string {
	return s.name
}

// Start begins listening for syslog messages.
func (s *SyslogIngestor) Start(ctx context.Context, out chan<- *model.Entry) error {
	defer close(out)

	switch strings.ToLower(s.cfg.Protocol) {
	case "udp":
		return s.startUDP(ctx, out)
	case "tcp":
		return s.startTCP(ctx, out)
	default:
		return fmt.Errorf("unsupported syslog protocol: %s", s.cfg.Protocol)
	}
}

func (s *SyslogIngestor) startUDP(ctx context.Context, out chan<- *model.Entry) error {
	conn, err := s.udpFactory("udp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on UDP: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.logger.Infof("listening for syslog: protocol=udp, address=%s", s.cfg.Address)

	buf := make([]byte, 65535)
	for {
		n, remoteAddr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.logger.Debugf("udp read error: %v", err)
				continue
			}
		}

		entry := s.newEntry(string(buf[:n]), "udp", remoteAddr)
		if !send(ctx, out, entry) {
			return ctx.Err()
		}
	}
}

func (s *SyslogIngestor) startTCP(ctx context.Context, out chan<- *model.Entry) error {
	listener, err := s.tcpFactory("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on TCP: %w", err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Infof("listening for syslog: protocol=tcp, address=%s", s.cfg.Address)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.logger.Debugf("tcp accept error: %v", err)
				continue
			}
		}

		go s.handleTCPConnection(ctx, conn, out)
	}
}

// handleTCPConnection reads newline framed messages from one client.
func (s *SyslogIngestor) handleTCPConnection(ctx context.Context, conn net.Conn, out chan<- *model.Entry) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		entry := s.newEntry(scanner.Text(), "tcp", remoteAddr)
		if !send(ctx, out, entry) {
			return
		}
	}
}

func (s *SyslogIngestor) newEntry(message, protocol string, remote net.Addr) *model.Entry {
	msg := ParseSyslog(strings.TrimRight(message, "\r\n"))

	entry := model.NewEntry(s.name, []byte(msg.Message))
	entry.Metadata["protocol"] = protocol
	if remote != nil {
		entry.Metadata["remote_addr"] = remote.String()
	}
	if msg.Priority >= 0 {
		entry.Metadata["syslog_facility"] = facilityName(msg.Priority / 8)
		entry.Metadata["syslog_severity"] = severityName(msg.Priority % 8)
	}
	if msg.Hostname != "" {
		entry.Metadata["syslog_host"] = msg.Hostname
	}
	if msg.Tag != "" {
		entry.Metadata["syslog_tag"] = msg.Tag
	}
	return entry
}

// SyslogMessage is a syslog packet split into header and message.
type SyslogMessage struct {
	// Priority is -1 when the packet carried no <PRI> part.
	Priority int
	Hostname string
	Tag      string
	Message  string
}

// ParseSyslog splits an RFC 5424 or RFC 3164 packet. Input that does not
// start with a priority is returned whole as the message.
func ParseSyslog(raw string) SyslogMessage {
	msg := SyslogMessage{Priority: -1, Message: raw}

	if len(raw) < 3 || raw[0] != '<' {
		return msg
	}
	end := strings.IndexByte(raw, '>')
	if end < 2 || end > 4 {
		return msg
	}
	priority, err := strconv.Atoi(raw[1:end])
	if err != nil || priority < 0 || priority > 191 {
		return msg
	}
	msg.Priority = priority
	rest := raw[end+1:]

	if strings.HasPrefix(rest, "1 ") {
		parse5424(&msg, rest[2:])
	} else {
		parse3164(&msg, rest)
	}
	return msg
}

// parse5424 handles "TIMESTAMP HOST APP PROCID MSGID SD MSG".
func parse5424(msg *SyslogMessage, rest string) {
	parts := strings.SplitN(rest, " ", 6)
	if len(parts) < 6 {
		msg.Message = rest
		return
	}
	msg.Hostname = nilValue(parts[1])
	msg.Tag = nilValue(parts[2])
	msg.Message = strings.TrimPrefix(skipStructuredData(parts[5]), "\ufeff")
}

// skipStructuredData drops the SD field, either "-" or one or more
// bracketed elements, and the space after it.
func skipStructuredData(s string) string {
	if strings.HasPrefix(s, "-") {
		return strings.TrimPrefix(s[1:], " ")
	}

	inValue, escaped := false, false
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inValue:
			escaped = true
		case c == '"':
			inValue = !inValue
		case inValue:
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 && (i+1 == len(s) || s[i+1] != '[') {
				return strings.TrimPrefix(s[i+1:], " ")
			}
		}
	}
	return s
}

// parse3164 handles "Mmm dd hh:mm:ss HOST TAG: MSG". The host is optional.
func parse3164(msg *SyslogMessage, rest string) {
	if len(rest) > len(time.Stamp) {
		if _, err := time.Parse(time.Stamp, rest[:len(time.Stamp)]); err == nil {
			rest = strings.TrimPrefix(rest[len(time.Stamp):], " ")
		}
	}

	first, after, _ := strings.Cut(rest, " ")
	if tag, ok := tagName(first); ok {
		msg.Tag = tag
		msg.Message = after
		return
	}

	second, message, _ := strings.Cut(after, " ")
	if tag, ok := tagName(second); ok && first != "" {
		msg.Hostname = first
		msg.Tag = tag
		msg.Message = message
		return
	}
	msg.Message = rest
}

// tagName recognizes "nginx:" and "nginx[123]:".
func tagName(word string) (string, bool) {
	if len(word) < 2 || !strings.HasSuffix(word, ":") {
		return "", false
	}
	tag := strings.TrimSuffix(word, ":")
	if i := strings.IndexByte(tag, '['); i > 0 {
		tag = tag[:i]
	}
	return tag, true
}

func nilValue(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// facilityName returns the human-readable facility name.
func facilityName(facility int) string {
	names := []string{
		"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
		"uucp", "cron", "authpriv", "ftp", "ntp", "audit", "alert", "clock",
		"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
	}
	if facility >= 0 && facility < len(names) {
		return names[facility]
	}
	return "unknown"
}

// severityName returns the human-readable severity name.
func severityName(severity int) string {
	names := []string{
		"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug",
	}
	if severity >= 0 && severity < len(names) {
		return names[severity]
	}
	return "unknown"
}

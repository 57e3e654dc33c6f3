package ingestor

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/model"
	"github.com/GabrielNunesIT/logindex/internal/testutil"
	"github.com/GabrielNunesIT/logindex/internal/testutil/mocks"
)

const nginxLine = `203.0.113.7 - - [15/Jun/2021:12:00:00 +0000] "GET /index.html HTTP/1.1" 200 512 "-" "curl/7.68.0"`

func TestParseSyslog(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want SyslogMessage
	}{
		{
			name: "RFC3164",
			raw:  "<134>Oct 11 22:14:15 mymachine su: 'su root' failed for lonvick on /dev/pts/8",
			want: SyslogMessage{Priority: 134, Hostname: "mymachine", Tag: "su", Message: "'su root' failed for lonvick on /dev/pts/8"},
		},
		{
			name: "RFC3164 nginx access log",
			raw:  "<190>Jun 15 12:00:00 web1 nginx: " + nginxLine,
			want: SyslogMessage{Priority: 190, Hostname: "web1", Tag: "nginx", Message: nginxLine},
		},
		{
			name: "RFC3164 without host and with pid",
			raw:  "<190>Jun  5 12:00:00 nginx[42]: hello world",
			want: SyslogMessage{Priority: 190, Tag: "nginx", Message: "hello world"},
		},
		{
			name: "RFC5424 with structured data",
			raw:  `<165>1 2003-10-11T22:14:15.003Z mymachine.example.com evntslog - ID47 [exampleSDID@32473 iut="3" eventSource="Application"] An application event`,
			want: SyslogMessage{Priority: 165, Hostname: "mymachine.example.com", Tag: "evntslog", Message: "An application event"},
		},
		{
			name: "RFC5424 escaped bracket in structured data",
			raw:  `<14>1 2021-06-15T12:00:00Z host app - - [a b="x\]y"][c d="e"] msg`,
			want: SyslogMessage{Priority: 14, Hostname: "host", Tag: "app", Message: "msg"},
		},
		{
			name: "RFC5424 nil values",
			raw:  "<14>1 2021-06-15T12:00:00Z - nginx - - - " + nginxLine,
			want: SyslogMessage{Priority: 14, Tag: "nginx", Message: nginxLine},
		},
		{
			name: "no priority",
			raw:  nginxLine,
			want: SyslogMessage{Priority: -1, Message: nginxLine},
		},
		{
			name: "priority out of range",
			raw:  "<999>x",
			want: SyslogMessage{Priority: -1, Message: "<999>x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSyslog(tt.raw))
		})
	}
}

func TestSyslogIngestor_UDP(t *testing.T) {
	tests := []struct {
		name          string
		message       string
		remoteAddr    *net.UDPAddr
		expectedRaw   string
		expectedFac   string
		expectedSev   string
		expectedHost  string
		expectedTagID string
	}{
		{
			name:          "RFC3164 Message",
			message:       "<134>Oct 11 22:14:15 mymachine su: 'su root' failed for lonvick on /dev/pts/8",
			remoteAddr:    &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234},
			expectedRaw:   "'su root' failed for lonvick on /dev/pts/8",
			expectedFac:   "local0",
			expectedSev:   "info",
			expectedHost:  "mymachine",
			expectedTagID: "su",
		},
		{
			name:          "nginx access log",
			message:       "<190>Jun 15 12:00:00 web1 nginx: " + nginxLine,
			remoteAddr:    &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 40000},
			expectedRaw:   nginxLine,
			expectedFac:   "local7",
			expectedSev:   "info",
			expectedHost:  "web1",
			expectedTagID: "nginx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPC := mocks.NewPacketConn(t)

			blockRead := make(chan struct{})
			msgBytes := []byte(tt.message)

			mockPC.On("ReadFrom", mock.Anything).Return(len(msgBytes), tt.remoteAddr, nil).Run(func(args mock.Arguments) {
				p := args.Get(0).([]byte)
				copy(p, msgBytes)
			}).Once()

			// Later reads block briefly so the loop does not spin.
			mockPC.On("ReadFrom", mock.Anything).Run(func(args mock.Arguments) {
				select {
				case <-blockRead:
				default:
					close(blockRead)
				}
				<-time.After(50 * time.Millisecond)
			}).Return(0, nil, io.EOF)

			mockPC.On("Close").Return(nil)

			factory := func(network, address string) (net.PacketConn, error) {
				assert.Equal(t, "udp", network)
				return mockPC, nil
			}

			cfg := config.SyslogIngestorConfig{Enabled: true, Protocol: "udp", Address: ":5140"}
			out := make(chan *model.Entry, 1)
			ingestor := NewSyslogIngestor(cfg, testutil.NewTestLogger(), WithUDPListenerFactory(factory))

			ctx, cancel := context.WithCancel(context.Background())
			startDone := make(chan error, 1)

			go func() {
				startDone <- ingestor.Start(ctx, out)
			}()

			select {
			case entry := <-out:
				assert.Equal(t, tt.expectedRaw, string(entry.Raw))
				assert.Equal(t, "syslog", entry.Source)
				assert.Equal(t, "udp", entry.Metadata["protocol"])
				assert.Equal(t, tt.remoteAddr.String(), entry.Metadata["remote_addr"])
				assert.Equal(t, tt.expectedFac, entry.Metadata["syslog_facility"])
				assert.Equal(t, tt.expectedSev, entry.Metadata["syslog_severity"])
				assert.Equal(t, tt.expectedHost, entry.Metadata["syslog_host"])
				assert.Equal(t, tt.expectedTagID, entry.Metadata["syslog_tag"])
			case <-time.After(time.Second):
				cancel()
				t.Fatal("timeout waiting for log entry")
			}

			select {
			case <-blockRead:
			case <-time.After(time.Second):
			}

			cancel()
			assert.ErrorIs(t, <-startDone, context.Canceled)
		})
	}
}

func TestSyslogIngestor_TCP(t *testing.T) {
	mockL := mocks.NewListener(t)
	server, client := net.Pipe()

	blockAccept := make(chan struct{})

	mockL.On("Accept").Return(server, nil).Once()
	mockL.On("Accept").Run(func(args mock.Arguments) {
		select {
		case <-blockAccept:
		default:
			close(blockAccept)
		}
		<-time.After(50 * time.Millisecond)
	}).Return(nil, io.EOF)
	mockL.On("Close").Return(nil)

	factory := func(network, address string) (net.Listener, error) {
		assert.Equal(t, "tcp", network)
		return mockL, nil
	}

	cfg := config.SyslogIngestorConfig{Enabled: true, Protocol: "tcp", Address: ":5140"}
	out := make(chan *model.Entry, 2)
	ingestor := NewSyslogIngestor(cfg, testutil.NewTestLogger(), WithTCPListenerFactory(factory))

	ctx, cancel := context.WithCancel(context.Background())
	startDone := make(chan error, 1)
	go func() {
		startDone <- ingestor.Start(ctx, out)
	}()

	go func() {
		_, _ = client.Write([]byte("<13>Oct 11 22:14:15 mymachine test: first\r\n\n<190>Jun 15 12:00:00 web1 nginx: " + nginxLine + "\n"))
		_ = client.Close()
	}()

	for _, want := range []string{"first", nginxLine} {
		select {
		case entry := <-out:
			assert.Equal(t, want, string(entry.Raw))
			assert.Equal(t, "tcp", entry.Metadata["protocol"])
		case <-time.After(time.Second):
			cancel()
			t.Fatal("timeout waiting for log entry")
		}
	}

	select {
	case <-blockAccept:
	case <-time.After(time.Second):
	}

	cancel()
	assert.ErrorIs(t, <-startDone, context.Canceled)
}

func TestSyslogIngestor_UnsupportedProtocol(t *testing.T) {
	cfg := config.SyslogIngestorConfig{Enabled: true, Protocol: "sctp"}
	out := make(chan *model.Entry)

	err := NewSyslogIngestor(cfg, testutil.NewTestLogger()).Start(context.Background(), out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported syslog protocol")

	_, ok := <-out
	assert.False(t, ok)
}

func TestFacilityAndSeverityNames(t *testing.T) {
	assert.Equal(t, "kern", facilityName(0))
	assert.Equal(t, "local7", facilityName(23))
	assert.Equal(t, "unknown", facilityName(24))
	assert.Equal(t, "emerg", severityName(0))
	assert.Equal(t, "debug", severityName(7))
	assert.Equal(t, "unknown", severityName(8))
}

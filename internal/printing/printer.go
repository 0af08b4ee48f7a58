// Package printing drives the thermal slip printer at the registration
// desk over the raw network printing port.
package printing

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

type TokenSlip struct {
	TokenNumber string
	PatientName string
	OPDCode     string
}

type OPDSlip struct {
	TokenNumber      string
	PatientName      string
	OPDCode          string
	RegistrationTime time.Time
	WaitMinutes      int
}

type Status struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
}

type Printer interface {
	PrintToken(ctx context.Context, slip TokenSlip) error
	PrintOPDSlip(ctx context.Context, slip OPDSlip) error
	Status(ctx context.Context) Status
}

// ESC/POS control sequences for 80mm receipt printers.
var (
	escInit   = []byte{0x1b, 0x40}
	escCenter = []byte{0x1b, 0x61, 0x01}
	escLeft   = []byte{0x1b, 0x61, 0x00}
	escDouble = []byte{0x1d, 0x21, 0x11}
	escNormal = []byte{0x1d, 0x21, 0x00}
	escCut    = []byte{0x1d, 0x56, 0x41, 0x00}
)

// NetworkPrinter talks to a printer listening on the JetDirect port
// (usually 9100). Each job is one connection.
type NetworkPrinter struct {
	addr    string
	timeout time.Duration
}

func NewNetworkPrinter(addr string) *NetworkPrinter {
	return &NetworkPrinter{addr: addr, timeout: 5 * time.Second}
}

func (p *NetworkPrinter) PrintToken(ctx context.Context, slip TokenSlip) error {
	var buf bytes.Buffer
	buf.Write(escInit)
	buf.Write(escCenter)
	buf.WriteString("MAHADEO EYE HOSPITAL\n")
	buf.WriteString("PATIENT TOKEN\n\n")
	buf.Write(escDouble)
	buf.WriteString(slip.TokenNumber + "\n")
	buf.Write(escNormal)
	buf.WriteString(slip.PatientName + "\n")
	if slip.OPDCode != "" {
		buf.WriteString("OPD: " + strings.ToUpper(slip.OPDCode) + "\n")
	}
	buf.WriteString("\n" + time.Now().Format("2006-01-02 15:04:05") + "\n")
	buf.WriteString("Please wait for your turn\n")
	buf.Write(escCut)
	return p.send(ctx, buf.Bytes())
}

func (p *NetworkPrinter) PrintOPDSlip(ctx context.Context, slip OPDSlip) error {
	var buf bytes.Buffer
	buf.Write(escInit)
	buf.Write(escCenter)
	buf.WriteString("MAHADEO EYE HOSPITAL\n")
	buf.WriteString("OPD SLIP\n\n")
	buf.Write(escLeft)
	buf.WriteString("Token: ")
	buf.Write(escDouble)
	buf.WriteString(slip.TokenNumber + "\n")
	buf.Write(escNormal)
	fmt.Fprintf(&buf, "Patient: %s\n", slip.PatientName)
	fmt.Fprintf(&buf, "OPD: %s\n", strings.ToUpper(slip.OPDCode))
	fmt.Fprintf(&buf, "Registered: %s\n", slip.RegistrationTime.Format("2006-01-02 15:04"))
	if slip.WaitMinutes > 0 {
		fmt.Fprintf(&buf, "Estimated wait: %d min\n", slip.WaitMinutes)
	}
	buf.Write(escCut)
	return p.send(ctx, buf.Bytes())
}

func (p *NetworkPrinter) Status(ctx context.Context) Status {
	status := Status{Address: p.addr}
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return status
	}
	_ = conn.Close()
	status.Connected = true
	return status
}

func (p *NetworkPrinter) send(ctx context.Context, payload []byte) error {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("printer dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(p.timeout))
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("printer write: %w", err)
	}
	return nil
}

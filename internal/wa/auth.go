package wa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wppimport/internal/bus"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent represents an auth lifecycle event.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// StartQRAuth begins the QR pairing flow. Each code is rendered to stderr
// through the logger and published on the bus. The returned channel closes
// when pairing succeeds, fails or times out.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}

	out := make(chan AuthEvent, 10)
	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			out <- AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()}
			return
		}

		for item := range qrChan {
			switch item.Event {
			case "code":
				a.logger.Info("scan the QR code to link this instance\n" + RenderQR(item.Code))
				a.bus.Publish(bus.Event{Kind: bus.KindQRCode, Tenant: a.instance, Timestamp: time.Now(), Payload: item.Code})
				out <- AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}
			case "success":
				a.logger.Info("instance linked")
				out <- AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}
				return
			case "timeout":
				a.logger.Warn("QR code timeout")
				out <- AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}
				return
			default:
				if item.Error != nil {
					a.logger.Error("pairing failed", zap.Error(item.Error))
					out <- AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}
					return
				}
			}
		}
	}()

	return out, nil
}

// RenderQR converts a string to a compact QR code using Unicode half-block
// characters. Two bitmap rows become one terminal line.
func RenderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "(QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}

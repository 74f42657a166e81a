package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/hearlink/internal/recording"
	"github.com/MrWong99/hearlink/internal/session"
)

// Device commands understood by the wearable firmware.
const (
	cmdVibrate     = "VIBRATE:%d"
	cmdSensitivity = "SENSITIVITY:%d"
	cmdPhoneMic    = "PHONE_MIC:%s"
)

// ConnectDevice connects the device session. Empty host and port fall back
// to the configured device endpoint. A dial failure leaves the session
// Failed and is returned.
func (c *Coordinator) ConnectDevice(ctx context.Context, host, port string) error {
	if host == "" && port == "" {
		cfg := c.cfg.Load()
		host, port = cfg.Device.Host, cfg.Device.Port
	}
	ep, err := session.ParseEndpoint(host, port)
	if err != nil {
		return err
	}
	return c.device.Connect(ctx, ep)
}

// DisconnectDevice closes the device session, saving an armed recording.
func (c *Coordinator) DisconnectDevice() { c.device.Disconnect() }

// SendVibration asks the device to vibrate with intensity level (0-10).
func (c *Coordinator) SendVibration(level int) error {
	if level < 0 || level > 10 {
		return fmt.Errorf("%w: got %d", ErrInvalidVibration, level)
	}
	return c.SendCommand(fmt.Sprintf(cmdVibrate, level))
}

// SendCommand queues a raw text command for the device.
func (c *Coordinator) SendCommand(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyCommand
	}
	if !c.device.Connected() {
		return session.ErrNotConnected
	}
	c.device.Send(text)
	return nil
}

// ConnectServer connects the processing-server session. Empty host and port
// fall back to the configured endpoint. Any reconnect in progress is
// abandoned first.
func (c *Coordinator) ConnectServer(ctx context.Context, host, port string) error {
	if host == "" && port == "" {
		cfg := c.cfg.Load()
		host, port = cfg.Processing.Host, cfg.Processing.Port
	}
	ep, err := session.ParseEndpoint(host, port)
	if err != nil {
		return err
	}
	if c.reconnector != nil {
		c.reconnector.Cancel()
	}
	c.serverTarget.Store(&ep)
	return c.server.Connect(ctx, ep)
}

// DisconnectServer closes the server session and stops reconnecting.
func (c *Coordinator) DisconnectServer() {
	if c.reconnector != nil {
		c.reconnector.Cancel()
	}
	c.server.Disconnect()
}

// SendToServer queues a text line for the processing server.
func (c *Coordinator) SendToServer(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyCommand
	}
	return c.server.Send(text)
}

// StartRecording arms the recorder. It fails unless the device is connected
// and no recording is in progress.
func (c *Coordinator) StartRecording() error {
	if err := c.recorder.Start(); err != nil {
		return err
	}
	c.refreshStatus()
	return nil
}

// StopRecording saves the armed recording. It returns (nil, nil) when
// nothing was armed. Failures are also surfaced as a notification.
func (c *Coordinator) StopRecording(ctx context.Context) (*recording.Result, error) {
	res, err := c.recorder.Stop(ctx)
	c.reportRecording(res, err)
	c.refreshStatus()
	return res, err
}

// ConnectLink starts connecting the direct link in the background. An empty
// address falls back to link.address.
func (c *Coordinator) ConnectLink(ctx context.Context, address string) error {
	if strings.TrimSpace(address) == "" {
		address = c.cfg.Load().Link.Address
	}
	return c.link.Connect(ctx, address)
}

// DisconnectLink closes the direct link.
func (c *Coordinator) DisconnectLink() { c.link.Disconnect() }

// sendPreferences forwards mic sensitivity and phone-mic mode to the device.
func (c *Coordinator) sendPreferences() {
	p := c.cfg.Load().Preferences
	mode := "off"
	if p.PhoneMicMode {
		mode = "on"
	}
	c.device.Send(fmt.Sprintf(cmdSensitivity, p.MicSensitivity))
	c.device.Send(fmt.Sprintf(cmdPhoneMic, mode))
	slog.Debug("app: preferences sent to device", "mic_sensitivity", p.MicSensitivity, "phone_mic", mode)
}

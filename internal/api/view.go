package api

import (
	"time"

	"github.com/MrWong99/hearlink/internal/app"
	"github.com/MrWong99/hearlink/internal/config"
	"github.com/MrWong99/hearlink/internal/session"
)

type statusView struct {
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Remote string    `json:"remote,omitempty"`
	Since  time.Time `json:"since"`
	Text   string    `json:"text"`
}

type detectionView struct {
	Kind        string    `json:"kind"`
	Token       string    `json:"token"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
}

type messageView struct {
	Index     uint64    `json:"index"`
	Direction string    `json:"direction"`
	Text      string    `json:"text,omitempty"`
	Bytes     int       `json:"bytes,omitempty"`
	Time      time.Time `json:"time"`
}

type recordingView struct {
	Name       string `json:"name"`
	Handle     string `json:"handle"`
	Bytes      int    `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
}

type preferencesView struct {
	BackgroundExecution bool `json:"background_execution"`
	MicSensitivity      int  `json:"mic_sensitivity"`
	PhoneMicMode        bool `json:"phone_mic_mode"`
}

// stateView is the GET /state body.
type stateView struct {
	Device statusView `json:"device"`
	Server statusView `json:"server"`
	Link   statusView `json:"link"`

	Recording     bool `json:"recording"`
	RecordedBytes int  `json:"recorded_bytes"`
	Reconnecting  bool `json:"reconnecting"`

	Keywords         []string        `json:"keywords"`
	VibrationCommand string          `json:"vibration_command"`
	Detections       []detectionView `json:"detections"`
	Messages         []messageView   `json:"messages"`

	BridgeClients int             `json:"bridge_clients"`
	Preferences   preferencesView `json:"preferences"`
	Notification  string          `json:"notification"`
	Time          time.Time       `json:"time"`
}

func newStatusView(s session.Status) statusView {
	return statusView{
		State:  s.State.String(),
		Reason: s.Reason,
		Detail: s.Detail,
		Remote: s.Remote,
		Since:  s.Since,
		Text:   s.String(),
	}
}

func newPreferencesView(p config.Preferences) preferencesView {
	return preferencesView{
		BackgroundExecution: p.BackgroundExecution,
		MicSensitivity:      p.MicSensitivity,
		PhoneMicMode:        p.PhoneMicMode,
	}
}

func newStateView(s app.Snapshot) stateView {
	v := stateView{
		Device:           newStatusView(s.Device),
		Server:           newStatusView(s.Server),
		Link:             newStatusView(s.Link),
		Recording:        s.Recording,
		RecordedBytes:    s.RecordedBytes,
		Reconnecting:     s.Reconnecting,
		Keywords:         s.Keywords,
		VibrationCommand: s.VibrationCommand,
		Detections:       make([]detectionView, 0, len(s.Detections)),
		Messages:         make([]messageView, 0, len(s.Messages)),
		BridgeClients:    s.BridgeClients,
		Preferences:      newPreferencesView(s.Preferences),
		Notification:     app.RenderNotification(s).Title,
		Time:             s.Time,
	}
	if v.Keywords == nil {
		v.Keywords = []string{}
	}
	for _, d := range s.Detections {
		v.Detections = append(v.Detections, detectionView{
			Kind:        string(d.Kind),
			Token:       d.Token,
			Description: d.Description,
			Time:        d.Time,
		})
	}
	for _, m := range s.Messages {
		mv := messageView{Index: m.Index, Direction: m.Direction.String(), Time: m.Time}
		if m.IsAudio() {
			mv.Bytes = len(m.Data)
		} else {
			mv.Text = m.Text
		}
		v.Messages = append(v.Messages, mv)
	}
	return v
}

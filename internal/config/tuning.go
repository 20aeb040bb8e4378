package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Tuning collects the non-secret knobs. Every field has a default; a YAML
// file overrides only the fields it sets, so partial files are fine.
type Tuning struct {
	Chat      ChatTuning      `yaml:"chat"`
	Events    EventsTuning    `yaml:"events"`
	Uploads   UploadsTuning   `yaml:"uploads"`
	RateLimit RateLimitTuning `yaml:"rate_limit"`
	Agents    AgentsTuning    `yaml:"agents"`
	Summary   SummaryTuning   `yaml:"summary"`
}

type ChatTuning struct {
	MaxMessageBytes  int64 `yaml:"max_message_bytes"`
	WriteWaitSeconds int   `yaml:"write_wait_seconds"`
	PongWaitSeconds  int   `yaml:"pong_wait_seconds"`
	LockTTLSeconds   int   `yaml:"lock_ttl_seconds"`
}

type EventsTuning struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

type UploadsTuning struct {
	MaxSizeBytes     int64    `yaml:"max_size_bytes"`
	AllowedMimeTypes []string `yaml:"allowed_mime_types"`
}

type RateLimitTuning struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

type AgentsTuning struct {
	// Initial is the agent label new remote conversations start with.
	Initial string   `yaml:"initial"`
	Labels  []string `yaml:"labels"`
}

type SummaryTuning struct {
	URLExpirySeconds int `yaml:"url_expiry_seconds"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Chat: ChatTuning{
			MaxMessageBytes:  64 * 1024,
			WriteWaitSeconds: 10,
			PongWaitSeconds:  60,
			LockTTLSeconds:   90,
		},
		Events: EventsTuning{
			PollIntervalMs: 1000,
		},
		Uploads: UploadsTuning{
			MaxSizeBytes: 10 * 1024 * 1024,
			AllowedMimeTypes: []string{
				"application/pdf",
				"image/jpeg",
				"image/png",
				"image/heic",
				"image/heif",
			},
		},
		RateLimit: RateLimitTuning{
			RequestsPerMinute: 120,
			Burst:             40,
		},
		Agents: AgentsTuning{
			Initial: "router",
			Labels:  []string{"router", "intake", "analysis", "wrap_up", "summary"},
		},
		Summary: SummaryTuning{
			URLExpirySeconds: 7 * 24 * 60 * 60,
		},
	}
}

// LoadFile overlays the YAML file at path onto t. Zero-valued fields in the
// file keep their current values.
func (t *Tuning) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var override Tuning
	if err := yaml.NewDecoder(f).Decode(&override); err != nil {
		return err
	}

	if override.Chat.MaxMessageBytes != 0 {
		t.Chat.MaxMessageBytes = override.Chat.MaxMessageBytes
	}
	if override.Chat.WriteWaitSeconds != 0 {
		t.Chat.WriteWaitSeconds = override.Chat.WriteWaitSeconds
	}
	if override.Chat.PongWaitSeconds != 0 {
		t.Chat.PongWaitSeconds = override.Chat.PongWaitSeconds
	}
	if override.Chat.LockTTLSeconds != 0 {
		t.Chat.LockTTLSeconds = override.Chat.LockTTLSeconds
	}
	if override.Events.PollIntervalMs != 0 {
		t.Events.PollIntervalMs = override.Events.PollIntervalMs
	}
	if override.Uploads.MaxSizeBytes != 0 {
		t.Uploads.MaxSizeBytes = override.Uploads.MaxSizeBytes
	}
	if len(override.Uploads.AllowedMimeTypes) > 0 {
		t.Uploads.AllowedMimeTypes = override.Uploads.AllowedMimeTypes
	}
	if override.RateLimit.RequestsPerMinute != 0 {
		t.RateLimit.RequestsPerMinute = override.RateLimit.RequestsPerMinute
	}
	if override.RateLimit.Burst != 0 {
		t.RateLimit.Burst = override.RateLimit.Burst
	}
	if override.Agents.Initial != "" {
		t.Agents.Initial = override.Agents.Initial
	}
	if len(override.Agents.Labels) > 0 {
		t.Agents.Labels = override.Agents.Labels
	}
	if override.Summary.URLExpirySeconds != 0 {
		t.Summary.URLExpirySeconds = override.Summary.URLExpirySeconds
	}
	return nil
}

package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Agent is a user-owned voice agent. This service only reads agents.
type Agent struct {
	ID              string          `json:"id" gorm:"type:varchar(64);primaryKey"`
	UserID          string          `json:"user_id" gorm:"type:varchar(255);not null;index"`
	Name            string          `json:"name" gorm:"type:varchar(255);not null"`
	ProviderAgentID string          `json:"provider_agent_id" gorm:"type:varchar(255);not null"`
	Config          AgentConfigData `json:"config" gorm:"type:jsonb"`
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for Agent
func (Agent) TableName() string {
	return "agents"
}

// AgentConfigData is the single typed shape of an agent's conversational
// settings. It is stored as JSON and mapped to provider payloads by the
// functions below.
type AgentConfigData struct {
	FirstMessage string `json:"first_message,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Language     string `json:"language,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
}

// Value implements driver.Valuer for AgentConfigData
func (a AgentConfigData) Value() (driver.Value, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	if string(data) == "{}" {
		return nil, nil
	}
	return data, nil
}

// Scan implements sql.Scanner for AgentConfigData
func (a *AgentConfigData) Scan(value interface{}) error {
	if value == nil {
		*a = AgentConfigData{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AgentConfigData", value)
	}

	return json.Unmarshal(bytes, a)
}

// SessionOverrides is the voice-AI provider's per-session override shape
type SessionOverrides struct {
	Agent *AgentOverride `json:"agent,omitempty"`
	TTS   *TTSOverride   `json:"tts,omitempty"`
}

// AgentOverride overrides the provider-side agent behaviour
type AgentOverride struct {
	FirstMessage string          `json:"first_message,omitempty"`
	Language     string          `json:"language,omitempty"`
	Prompt       *PromptOverride `json:"prompt,omitempty"`
}

// PromptOverride replaces the provider-side system prompt
type PromptOverride struct {
	Prompt string `json:"prompt"`
}

// TTSOverride selects the synthesis voice
type TTSOverride struct {
	VoiceID string `json:"voice_id"`
}

// VoiceSessionOverrides maps an agent to the voice-AI override payload.
// Returns nil when the agent has nothing to override.
func VoiceSessionOverrides(agent *Agent) *SessionOverrides {
	if agent == nil {
		return nil
	}
	cfg := agent.Config
	out := &SessionOverrides{}

	if cfg.FirstMessage != "" || cfg.Language != "" || cfg.SystemPrompt != "" {
		out.Agent = &AgentOverride{
			FirstMessage: cfg.FirstMessage,
			Language:     cfg.Language,
		}
		if cfg.SystemPrompt != "" {
			out.Agent.Prompt = &PromptOverride{Prompt: cfg.SystemPrompt}
		}
	}
	if cfg.VoiceID != "" {
		out.TTS = &TTSOverride{VoiceID: cfg.VoiceID}
	}

	if out.Agent == nil && out.TTS == nil {
		return nil
	}
	return out
}

// ApplyAgent copies the agent reference and a snapshot of its configuration
// onto the call record.
func (c *Call) ApplyAgent(agent *Agent) {
	if agent == nil {
		return
	}
	c.AgentID = agent.ID
	c.AgentSnapshot = JSONB{
		"name":              agent.Name,
		"provider_agent_id": agent.ProviderAgentID,
	}
	if agent.Config.Language != "" {
		c.AgentSnapshot["language"] = agent.Config.Language
	}
	if agent.Config.VoiceID != "" {
		c.AgentSnapshot["voice_id"] = agent.Config.VoiceID
	}
}

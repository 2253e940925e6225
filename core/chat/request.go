package chat

import "github.com/koscakluka/ema-datachat/core/conversation"

const (
	DefaultProvider    = "ollama"
	DefaultModel       = "llama3.1:8b"
	DefaultTemperature = 0.2
)

// Settings selects the model the server answers with.
type Settings struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

func DefaultSettings() Settings {
	return Settings{
		Provider:    DefaultProvider,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
	}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body that opens a chat stream. DatasetID is serialised as
// null when no dataset is selected.
type Request struct {
	ProjectID string    `json:"project_id"`
	DatasetID *string   `json:"dataset_id"`
	Messages  []Message `json:"messages"`
	Settings  Settings  `json:"settings"`
}

// NewRequest builds a request carrying the whole transcript as turn history.
// Only roles and contents are sent; structured results stay client side.
func NewRequest(projectID string, datasetID *string, transcript conversation.Transcript, settings Settings) Request {
	messages := make([]Message, 0, len(transcript))
	for _, message := range transcript {
		messages = append(messages, Message{Role: string(message.Role), Content: message.Content})
	}

	return Request{
		ProjectID: projectID,
		DatasetID: datasetID,
		Messages:  messages,
		Settings:  settings,
	}
}

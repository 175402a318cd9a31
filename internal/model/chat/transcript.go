package chat

import "time"

// TranscriptLine 是自动生成对话中的一行。
type TranscriptLine struct {
	Speaker       string         `json:"speaker"`
	Message       string         `json:"message"`
	Category      string         `json:"category"`
	RetrievedInfo *RetrievedInfo `json:"retrieved_info,omitempty"`
}

// RetrievedInfo 记录生成某条回复时使用的完整提示词。
type RetrievedInfo struct {
	FullPrompt string   `json:"full_prompt"`
	Speaker    string   `json:"speaker"`
	Category   string   `json:"category,omitempty"`
	Examples   []string `json:"examples,omitempty"`
}

// DecisionRecord 是某一时刻的撤离判断。
type DecisionRecord struct {
	MessageCount int    `json:"message_count"`
	Decision     string `json:"decision"`
}

// Conversation 是批量生成中的一段完整对话。
type Conversation struct {
	TownPerson          string           `json:"town_person"`
	ConversationHistory []TranscriptLine `json:"conversation_history"`
	DecisionResponses   []DecisionRecord `json:"decision_responses"`
	TotalMessages       int              `json:"total_messages"`
}

// Artifact 是批量生成输出的 JSON 文档。
type Artifact struct {
	GeneratedAt        time.Time      `json:"generated_at"`
	TotalConversations int            `json:"total_conversations"`
	Conversations      []Conversation `json:"conversations"`
}

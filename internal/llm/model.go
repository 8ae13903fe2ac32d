package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	// RoleSystem 系统角色
	RoleSystem MessageRole = "system"
	// RoleUser 用户角色
	RoleUser MessageRole = "user"
	// RoleAssistant 助手角色
	RoleAssistant MessageRole = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Response 统一的响应结构
type Response struct {
	Text         string    // 生成的文本
	TokenCount   int       // 使用的token数
	ModelName    string    // 使用的模型名称
	FinishReason string    // 结束原因
	FinishTime   time.Time // 完成时间
}

// RAGResponse RAG响应结构
type RAGResponse struct {
	Answer  string            // 回答内容，已去除思考过程
	Sources []SourceReference // 引用来源
	Prompt  string            // 实际发送的提示词
}

// SourceReference 引用来源
type SourceReference struct {
	Index   int    // 在上下文中的序号，从1开始
	Content string // 引用内容
}

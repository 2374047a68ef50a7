package chat

// Role identifies who authored a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemTurn 构造系统角色消息。
func SystemTurn(content string) Turn { return Turn{Role: RoleSystem, Content: content} }

// UserTurn 构造用户消息。
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn 构造助手消息。
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

package call

// Roles accepted by the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn in the shape the completion API expects.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

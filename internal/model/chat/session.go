package chat

// 会话模式。
const (
	ModeInteractive = "interactive"
	ModeAuto        = "auto"
)

// InteractiveSessionID 返回交互模式下某个角色的固定会话 ID。
func InteractiveSessionID(character string) string {
	return character + "_session"
}

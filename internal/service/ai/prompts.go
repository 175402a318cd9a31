package ai

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Template 是一个命名的 FString 提示词模板。System 可为空。
type Template struct {
	Name   string
	System string
	User   string
}

func (t Template) chatTemplate() prompt.ChatTemplate {
	messages := make([]schema.MessagesTemplate, 0, 2)
	if t.System != "" {
		messages = append(messages, schema.SystemMessage(t.System))
	}
	messages = append(messages, schema.UserMessage(t.User))
	return prompt.FromMessages(schema.FString, messages...)
}

// TownPersonTemplate drives an interactive town person reply.
// Vars: name, persona, history, instruction.
var TownPersonTemplate = Template{
	Name: "town_person",
	User: "You are roleplaying as {name}, \n{name}'s background: {persona}\nPrevious conversation:\n{history}\n{instruction}\n" +
		" please generate a response based on the last message and keep your response natural and brief. Only generate utterances, no system messages.",
}

// TownPersonReplyTemplate answers a line the virtual agent just produced.
// Vars: name, persona, history, instruction, agent_line.
var TownPersonReplyTemplate = Template{
	Name: "town_person_reply",
	User: "You are roleplaying as {name}, \n{name}'s background: {persona}\nPrevious conversation:\n{history}\n{instruction}\n" +
		"Julie just said: {agent_line}\nPlease generate a response based on this message and keep your response natural and brief. Only generate utterances, no system messages.",
}

// AgentTemplate drives Julie, the virtual evacuation assistant.
// Vars: history, instruction.
var AgentTemplate = Template{
	Name: "agent",
	User: "You are roleplaying as Julie, an emergency evacuation virtual assistant.\nPrevious conversation:\n{history}\n{instruction}\n" +
		"Keep your response in one short sentence. Only generate utterances, no system messages.",
}

// ScriptedStepTemplate drives one line of a fully simulated conversation.
// Vars: name, persona, history, instruction.
var ScriptedStepTemplate = Template{
	Name: "scripted_step",
	User: "You are roleplaying as {name}.\n{name}'s background: {persona}\nPrevious conversation:\n{history}\n{instruction}\n" +
		"Keep your response natural and brief. Only generate utterances, no system messages.",
}

// ProbeTemplate asks a single yes/no question. Vars: question.
var ProbeTemplate = Template{
	Name:   "probe",
	System: "You are a strict classifier. Answer with a single word: yes or no.",
	User:   "{question}",
}

// BuiltinTemplates are compiled eagerly when the service starts.
func BuiltinTemplates() []Template {
	return []Template{TownPersonTemplate, TownPersonReplyTemplate, AgentTemplate, ScriptedStepTemplate, ProbeTemplate}
}

// AgentPersona 是自动模式下消防调度员的背景。
const AgentPersona = "A calm, experienced Fire Department dispatcher calling residents in a wildfire evacuation zone. " +
	"The goal is to make sure every resident understands the danger and leaves safely."

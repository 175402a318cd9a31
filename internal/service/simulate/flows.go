package simulate

import "github.com/zhouzirui/evacsim/backend/internal/service/planner"

// Role 标识脚本步骤由谁发言。
type Role int

const (
	RoleAgent Role = iota
	RoleTownPerson
)

// AgentSpeaker is the transcript name of the dispatcher in auto mode.
const AgentSpeaker = "Agent"

// agentScriptCharacter 是调度员示例台词在台词库中的角色名。
const agentScriptCharacter = "operator"

// Step is one scripted line of an auto conversation.
type Step struct {
	Role        Role
	Category    string
	Instruction string
}

const greetingExample = "Hello hi, this is Fire Department dispatcher Tanay. Are you okay?"

// openingStep 是所有流程共用的调度员开场白。
var openingStep = Step{
	Role:        RoleAgent,
	Category:    "greetings",
	Instruction: "Generate a single-sentence greeting to {name} as the Fire Department Agent. Example greeting: " + greetingExample,
}

var (
	initialResistance = Step{RoleTownPerson, "response_to_operator_greetings",
		"Generate a single-sentence response showing initial resistance to evacuation that reflects your background."}
	urgentWarning = Step{RoleAgent, "emphasize_danger",
		"Generate a single-sentence urgent warning about the fire danger in a professional and authoritative tone."}
	lifeOverProperty = Step{RoleAgent, "emphasize_value_of_life",
		"Generate a single-sentence final plea emphasizing life over property."}
	agentClosing = Step{RoleAgent, "closing",
		"Generate a single-sentence response confirming the plan and ending the conversation."}
	personClosing = Step{RoleTownPerson, "closing",
		"Generate a single-sentence response ending the conversation."}
)

var flows = map[planner.Character][]Step{
	planner.Bob: {
		initialResistance,
		urgentWarning,
		{RoleTownPerson, "response_to_operator_greetings",
			"Generate a single-sentence response still resisting evacuation and expressing specific concerns about your work."},
		lifeOverProperty,
		{RoleTownPerson, "progression", "Generate a single-sentence response showing your agreement to evacuate."},
		{RoleAgent, "progression", "Generate a single-sentence response acknowledging the agreement and giving a quick safety instruction."},
		personClosing,
	},
	planner.Niki: {
		{RoleTownPerson, "response_to_operator_greetings",
			"Generate a single-sentence response showing you are confused and unaware of the danger."},
		urgentWarning,
		{RoleTownPerson, "progression", "Generate a single-sentence response acknowledging the danger and agreeing to evacuate."},
		agentClosing,
		personClosing,
		{RoleAgent, "closing", "Generate a single-sentence goodbye that ends the conversation."},
	},
	planner.Lindsay: {
		{RoleTownPerson, "response_to_operator_greetings",
			"Generate a single-sentence response showing worry about your children and parents."},
		urgentWarning,
		{RoleTownPerson, "progression", "Generate a single-sentence response agreeing to evacuate with your family."},
		agentClosing,
		personClosing,
	},
	planner.Ross: {
		{RoleTownPerson, "response_to_operator_greetings",
			"Generate a single-sentence response asking practical questions about the fire."},
		{RoleAgent, "emphasize_danger",
			"Generate a single-sentence urgent warning about the fire danger and mention to send the transportation vehicle."},
		{RoleTownPerson, "progression", "Generate a single-sentence response agreeing to evacuate and accepting the transportation."},
		agentClosing,
		personClosing,
	},
	planner.Michelle: {
		initialResistance,
		urgentWarning,
		{RoleTownPerson, "resistance", "Generate a single-sentence response insisting on your independence and questioning the warning."},
		lifeOverProperty,
		{RoleTownPerson, "progression", "Generate a single-sentence response reluctantly agreeing to evacuate."},
		agentClosing,
		personClosing,
	},
}

// genericFlow 用于没有专属流程的角色，交替发言，最后由居民做出决定。
var genericFlow = []Step{
	{RoleTownPerson, "response_to_operator_greetings", "Generate a single-sentence response to the operator's message."},
	{RoleAgent, "progression", "Generate a single-sentence response to the previous message."},
	{RoleTownPerson, "progression", "Generate a single-sentence response to the operator's message."},
	{RoleAgent, "progression", "Generate a single-sentence response to the previous message."},
	{RoleTownPerson, "closing",
		"Generate a single-sentence response to the operator's message and make the final decision to determine whether you want to be evacuated or not."},
	{RoleAgent, "closing", "Generate a single-sentence response to the previous message and end the conversation."},
}

// Flow returns the scripted steps for c, opening greeting included.
func Flow(c planner.Character) []Step {
	steps, ok := flows[c]
	if !ok {
		steps = genericFlow
	}
	out := make([]Step, 0, len(steps)+1)
	out = append(out, openingStep)
	return append(out, steps...)
}

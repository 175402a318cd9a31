package planner

import (
	"github.com/zhouzirui/evacsim/backend/internal/analysis/cue"
	"github.com/zhouzirui/evacsim/backend/internal/service/probe"
)

// 各角色的决策表。阈值、条件与 flag 取值范围按角色分别维护，不做统一。

func bobTable() *Table {
	return &Table{
		Character: Bob,
		Checks: []FlagCheck{
			{Flag: FlagDanger, Probe: probe.EmphasizeDanger, Scope: ScopeLastMessage},
			{Flag: FlagValueOfLife, Probe: probe.EmphasizeValueOfLife, Scope: ScopeLastMessage},
			{Flag: FlagDangerHistory, Probe: probe.EmphasizeDanger, Scope: ScopeEachLine, FromLine: 4, LineSpeaker: "operator", MinCount: 4},
			{Flag: FlagEnding, Keyword: cue.HasEndingKeyword, Scope: ScopeLastMessage},
		},
		Rules: []Rule{
			{Stage: StageGreeting, Category: "greetings",
				Instruction: "Generate an initial response to the operator's or julie's greeting. Use or adapt lines from this {category}:{examples}. " +
					"If the message came from Julie, show reluctance to even acknowledge her. If the message came from the Operator, be slightly more responsive but still resistant."},
			{Stage: StageOpening, Category: "work_resistance",
				Instruction: "Generate a response focusing heavily on your work being too important to leave behind. Use or adapt lines from this {category}: {examples}. " +
					"If the previous message tried to emphasize danger, respond with skepticism. If the previous message tried to be empathetic, still refuse but with slightly less hostility."},
			{Stage: StageMiddle, When: []Flag{FlagDanger}, Category: "decision_point",
				Instruction: "Generate a response showing that you're beginning to consider the evacuation warning. The operator has personally emphasized the danger of the fire. " +
					"Choose from: {examples} to show that you're starting to take the threat seriously."},
			{Stage: StageMiddle, Category: "minimal_engagement",
				Instruction: "Generate a response with minimal engagement. Showing frustration at continued persuasion attempts. Use lines from this {category}: {examples} that show resistance. " +
					"Keep your response very brief and show you're disengaging from the conversation."},
			{Stage: StageFinal, When: []Flag{FlagValueOfLife, FlagDangerHistory, FlagDanger}, Category: "progression",
				Instruction: "Generate a response agreeing to evacuate. Please be flexible based on the previous message. " +
					"The operator has personally convinced you that the danger is real and no work is worth risking your life. " +
					"Choose from this {category}: {examples} like \"Okay, I'm not stupid. Let me just grab my bag and I'll head out.\" Show that you've been convinced to prioritize your safety."},
			{Stage: StageFinal, Category: "final_refusal",
				Instruction: "Generate your final response refusing to evacuate. Please be flexible based on the previous message. Choose from this {category}: {examples} " +
					"to emphasize that you will not leave your work behind. This is your final decision and nothing will change your mind."},
			{Stage: StageFallback, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate a response ending the conversation. Choose from this {category}: {examples} to show that you're done talking."},
			{Stage: StageFallback, Category: "closing",
				Instruction: "Generate a response ending the conversation. Please be flexible based on the previous message. Choose from this {category}: {examples}"},
		},
	}
}

// niki 的 fire 从不求值，只保留在表中。
func nikiTable() *Table {
	return &Table{
		Character: Niki,
		Checks: []FlagCheck{
			{Flag: FlagKeepAsking, Probe: probe.KeepAsking, Scope: ScopeHistory, MinCount: 2, OperatorOnly: true},
			{Flag: FlagEnding, Probe: probe.EndingConversation, Scope: ScopeHistory, MinCount: 2, OperatorOnly: true},
		},
		Rules: []Rule{
			{Stage: StageGreeting, Category: "greetings",
				Instruction: "Generate an initial response to the operator's or julie's greeting. Use or adapt lines from this {category}:{examples}. " +
					"If the message came from Julie, show reluctance to even acknowledge her. If the message came from the Operator, be slightly more responsive but shows uncertainty and unware of the danger."},
			{Stage: StageOpening, When: []Flag{FlagFire}, Category: "progression",
				Instruction: "Generate a response acknowledging the danger and agreeing to evacuate. Please be flexible based on the previous message. Choose from this {category}: {examples}"},
			{Stage: StageOpening, Category: "response_to_operator_greetings",
				Instruction: "Generate a response to the operator's greeting or answer the operator's question. Use or adapt lines from this {category}:{examples}. " +
					"If the message came from Julie, show reluctance to even acknowledge her. If the message came from the Operator, be slightly more responsive but try to confirm the danger."},
			{Stage: StageMiddle, When: []Flag{FlagFire}, Category: "progression",
				Instruction: "Generate a final response acknowledging the danger and agreeing to evacuate. Please be flexible based on the previous message. Choose from this {category}: {examples}"},
			{Stage: StageMiddle, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate a final response to the operator or julie that agrees to evacuate. Please be flexible based on the previous message. Choose from this {category}: {examples}"},
			{Stage: StageMiddle, When: []Flag{FlagKeepAsking}, Category: "observation",
				Instruction: "Generate a response to answer the operator's or julie's question. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageMiddle, Category: "progression",
				Instruction: "Generate a response agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, When: []Flag{FlagFire}, Category: "progression",
				Instruction: "Generate your response acknowledging the danger and agreeing to evacuate. Please be flexible based on the previous message. Choose from this {category}: {examples}"},
			{Stage: StageFinal, When: []Flag{FlagKeepAsking}, Category: "observation_2",
				Instruction: "Generate your response to answer the operator's or julie's question. Please be flexible based on the previous message. Choose from this {category}: {examples}"},
			{Stage: StageFinal, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate your response ending the conversation. Please be flexible based on the previous message. Choose from this {category}: {examples}"},
			{Stage: StageFinal, Category: "progression",
				Instruction: "Generate your final response finally agreeing to evacuate. Choose from this {category}: {examples}"},
			{Stage: StageFallback, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate your response ending the conversation. Choose from this {category}: {examples}"},
			{Stage: StageFallback, Category: "progression",
				Instruction: "Generate your final response finally agreeing to evacuate. Choose from this {category}: {examples}"},
		},
	}
}

func lindsayTable() *Table {
	return &Table{
		Character: Lindsay,
		Checks: []FlagCheck{
			{Flag: FlagFireHistory, Probe: probe.MentionsFire, Scope: ScopeEachLine, MinCount: 2},
			{Flag: FlagChildren, Probe: probe.AsksAboutChildren, Scope: ScopeLastMessage, OperatorOnly: true},
			{Flag: FlagParents, Probe: probe.AsksAboutParents, Scope: ScopeLastMessage, OperatorOnly: true},
			{Flag: FlagFire, Probe: probe.MentionsFire, Scope: ScopeLastMessage, OperatorOnly: true},
			{Flag: FlagEnding, Keyword: cue.HasEndingKeyword, Scope: ScopeLastMessage, OperatorOnly: true},
		},
		Rules: []Rule{
			{Stage: StageGreeting, Category: "greetings",
				Instruction: "Generate an initial response to the operator's or julie's greeting. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageOpening, When: []Flag{FlagFire}, Category: "progression",
				Instruction: "Generate a response acknowledging the danger and agreeing to evacuate. Please be flexible based on the previous message. Choose from this {category}: {examples}"},
			{Stage: StageOpening, Category: "response_to_operator_greetings",
				Instruction: "Generate a response to the operator's greeting or answer the operator's question. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageMiddle, When: []Flag{FlagChildren}, Category: "children",
				Instruction: "Generate a response to answer the operator's or julie's question about the children. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageMiddle, When: []Flag{FlagParents}, Category: "parents",
				Instruction: "Generate a response to answer the operator's or julie's question about the parents. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageMiddle, When: []Flag{FlagFire, FlagFireHistory}, Category: "progression",
				Instruction: "Generate a response agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageMiddle, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate a final response to operator or julie. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageMiddle, Category: "observations",
				Instruction: "Generate a response to answer the operator's or julie's question about the fire. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, When: []Flag{FlagChildren}, Category: "children",
				Instruction: "Generate a response to answer the operator's or julie's question. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, When: []Flag{FlagParents}, Category: "parents",
				Instruction: "Generate a response to answer the operator's or julie's question. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, When: []Flag{FlagFire, FlagFireHistory}, Category: "progression",
				Instruction: "Generate a final response agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate a final response to operator or julie. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, Category: "progression",
				Instruction: "Generate a response agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFallback, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate a final response to operator or julie. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFallback, Category: "progression",
				Instruction: "Generate your final response finally agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
		},
	}
}

func rossTable() *Table {
	return &Table{
		Character: Ross,
		Checks: []FlagCheck{
			{Flag: FlagEnding, Keyword: cue.HasEndingKeyword, Scope: ScopeLastMessage, MinCount: 5, OperatorOnly: true},
		},
		Rules: []Rule{
			{Stage: StageGreeting, Category: "greetings",
				Instruction: "Generate an initial response to the operator's or julie's greeting. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageOpening, Category: "response_to_operator_greetings",
				Instruction: "Generate a response to the operator's greeting or answer the operator's question. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageMiddle, Category: "progression",
				Instruction: "Generate a response agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate a final response to operator or julie. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, Category: "progression",
				Instruction: "Generate a response agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFallback, When: []Flag{FlagEnding}, Category: "closing",
				Instruction: "Generate a final response to operator or julie. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFallback, Category: "progression",
				Instruction: "Generate a final response finally agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
		},
	}
}

func michelleTable() *Table {
	return &Table{
		Character: Michelle,
		Checks: []FlagCheck{
			{Flag: FlagEngagementHistory, Probe: probe.Engagement, Scope: ScopeEachLine},
			{Flag: FlagEngagement, Probe: probe.Engagement, Scope: ScopeLastMessage, OperatorOnly: true},
			{Flag: FlagEnding, Probe: probe.EndingConversation, Scope: ScopeHistory},
		},
		Rules: []Rule{
			{Stage: StageGreeting, Category: "greetings",
				Instruction: "Generate an initial response to the operator's or julie's greeting. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageOpening, Category: "response_to_operator_greetings",
				Instruction: "Generate a response to ask the operator if he would like to leave in the situation. Refer to lines from this {category}:{examples}."},
			{Stage: StageMiddle, When: []Flag{FlagEngagement, FlagEngagementHistory}, Category: "progression",
				Instruction: "Generate a response agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageMiddle, Category: "refuse_assistance",
				Instruction: "Generate a response refusing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, When: []Flag{FlagEnding, FlagEngagementHistory}, Category: "closing",
				Instruction: "Generate a final response agreeing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFinal, Category: "refuse_assistance",
				Instruction: "Generate a final response refusing to evacuate. Use or adapt lines from this {category}:{examples}."},
			{Stage: StageFallback, Category: "closing",
				Instruction: "Generate a final response to operator or julie. Use or adapt lines from this {category}:{examples}."},
		},
	}
}

// genericTable 用于没有示例台词的角色。
func genericTable(c Character) *Table {
	return &Table{
		Character:       c,
		WithoutExamples: true,
		Rules: []Rule{
			{Stage: StageGreeting, Category: "greetings", Instruction: "Generate an initial response to the operator's or julie's greeting."},
			{Stage: StageOpening, Category: "response_to_operator_greetings", Instruction: "Generate a response to the operator's greeting or answer the operator's question."},
			{Stage: StageMiddle, Category: "progression", Instruction: "Generate a response to the operator."},
			{Stage: StageFinal, Category: "closing", Instruction: "Generate a final response to determine whether you want to be evacuated or not."},
			{Stage: StageFallback, Category: "closing", Instruction: "Generate a final response to operator or julie."},
		},
	}
}

// DefaultTables registers a table for every town person.
func DefaultTables() map[Character]*Table {
	tables := map[Character]*Table{
		Bob:      bobTable(),
		Niki:     nikiTable(),
		Lindsay:  lindsayTable(),
		Ross:     rossTable(),
		Michelle: michelleTable(),
	}
	for _, c := range []Character{Mary, Ben, Ana, Tom, Mia} {
		tables[c] = genericTable(c)
	}
	return tables
}

package toolmodel

import (
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIFunctionDefinition emits t as an openai.FunctionDefinition, so the
// result is directly usable as openai.Tool{Type: openai.ToolTypeFunction,
// Function: ...} in a chat-completions request.
func OpenAIFunctionDefinition(t *Tool) openai.FunctionDefinition {
	def := openai.FunctionDefinition{
		Name:        t.Name,
		Description: t.Description,
	}
	if len(t.Parameters) > 0 {
		def.Parameters = EmitMap(t.Parameters)
	}
	return def
}

// OpenAITool wraps OpenAIFunctionDefinition in the envelope the
// chat-completions "tools" array expects.
func OpenAITool(t *Tool) openai.Tool {
	def := OpenAIFunctionDefinition(t)
	return openai.Tool{Type: openai.ToolTypeFunction, Function: &def}
}

package anthropicengine

import (
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"rondo/internal/chat"
	"rondo/internal/engine"
	"rondo/internal/functions"
)

// toMessageParams validates and converts a canonical prompt into SDK params.
func toMessageParams(model string, messages []chat.Message, specs []engine.FunctionSpec, opts engine.PredictOptions) (anthropic.MessageNewParams, error) {
	if strings.TrimSpace(model) == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("%w: model is required", engine.ErrInvalidRequest)
	}

	system, rest := splitSystemPrefix(messages)
	sdkMessages, err := toSDKMessages(rest)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  sdkMessages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	if len(specs) > 0 {
		tools, err := toSDKTools(specs)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
		if opts.DisableFunctions {
			none := anthropic.NewToolChoiceNoneParam()
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &none}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	return params, nil
}

// splitSystemPrefix gathers leading system messages into the system prompt.
// System messages appearing later in the prompt (retry feedback) cannot use
// the API's system slot and are mapped to user messages instead.
func splitSystemPrefix(messages []chat.Message) (string, []chat.Message) {
	var parts []string
	i := 0
	for ; i < len(messages); i++ {
		if messages[i].Role != chat.RoleSystem {
			break
		}
		if text := messages[i].Content; text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), messages[i:]
}

// toSDKMessages converts canonical messages into Anthropic SDK messages.
// tool_use IDs do not exist in the canonical model, so they are synthesized
// positionally and paired with the next matching function-result message.
func toSDKMessages(messages []chat.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))

	pendingCallID := ""
	pendingCallName := ""
	for i, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			if msg.Content == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case chat.RoleSystem:
			// Mid-conversation correction from the session engine.
			if msg.Content == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case chat.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if call := msg.FunctionCall; call != nil && strings.TrimSpace(call.Name) != "" {
				pendingCallID = fmt.Sprintf("call_%d", i)
				pendingCallName = call.Name
				input, err := functions.DecodeObjectArguments(call.Arguments)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(pendingCallID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case chat.RoleFunction:
			if pendingCallID != "" && msg.Name == pendingCallName {
				out = append(out, anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(pendingCallID, msg.Content, false),
				))
				pendingCallID = ""
				pendingCallName = ""
				continue
			}
			// Result with no pending call (e.g. loaded history whose
			// call fell out of the window); degrade to labeled text.
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewTextBlock(fmt.Sprintf("%s returned: %s", msg.Name, msg.Content)),
			))

		default:
			return nil, fmt.Errorf("%w: unsupported role %q", engine.ErrInvalidRequest, msg.Role)
		}
	}

	return out, nil
}

// toSDKTools converts function specs into Anthropic SDK tool definitions.
func toSDKTools(specs []engine.FunctionSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema, err := functions.DecodeObjectSchema(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("decode schema for %q: %w", spec.Name, err)
		}
		toolParam := anthropic.ToolParam{
			Name: spec.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		if strings.TrimSpace(spec.Description) != "" {
			toolParam.Description = anthropic.String(spec.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out, nil
}

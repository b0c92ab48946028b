package openaicompat

import "github.com/quietloop/memoria"

// ParseResponse converts an OpenAI-format ChatResponse to a memoria
// ChatResponse, extracting content and usage from choices[0].
func ParseResponse(resp ChatResponse) (memoria.ChatResponse, error) {
	var out memoria.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
	}

	if resp.Usage != nil {
		out.Usage = memoria.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}
